package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	rl "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit/store"
	"github.com/Aidin1998/flowlimit/pkg/errors"
)

func newCounter(t *testing.T, limit int32, perPrincipal bool) *rl.CounterLimiter {
	t.Helper()
	l, err := rl.NewCounterLimiter(rl.CounterOptions{
		Name:         "test",
		Prefix:       "mw:",
		Keys:         []string{"api"},
		Durations:    []int64{60},
		Caps:         []int32{limit},
		Unit:         rl.UnitSeconds,
		PerPrincipal: perPrincipal,
	}, store.NewLocalStore(nil, 0), zaptest.NewLogger(t))
	require.NoError(t, err)
	return l
}

// failingLimiter is a limiter whose Check always errors.
type failingLimiter struct{}

func (failingLimiter) Name() string { return "failing" }

func (failingLimiter) Check(context.Context, rl.Subject) (bool, error) {
	return false, rl.ErrNotInitialized
}

func (failingLimiter) Reset(context.Context, rl.Subject) error { return nil }

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPMiddleware_RejectsOverLimit(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(newCounter(t, 2, false), HTTPOptions{}, zaptest.NewLogger(t))(okHandler(&calls))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(h, "/api/orders", nil).Code)
	}
	rec := serve(h, "/api/orders", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errors.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, calls)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["detail"])
	assert.Equal(t, "/api/orders", body["instance"])
}

func TestHTTPMiddleware_HealthChecksBypass(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(newCounter(t, 1, false), HTTPOptions{}, zaptest.NewLogger(t))(okHandler(&calls))

	for _, path := range []string{"/healthz", "/metrics", "/.well-known/ready", "/healthz", "/ping"} {
		assert.Equal(t, http.StatusOK, serve(h, path, nil).Code, path)
	}
	assert.Equal(t, 5, calls)
}

func TestHTTPMiddleware_StatusSuffixedRoutesAreLimited(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(newCounter(t, 1, false), HTTPOptions{}, zaptest.NewLogger(t))(okHandler(&calls))

	assert.Equal(t, http.StatusOK, serve(h, "/api/orders/42/status", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "/api/orders/42/status", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "/users/ping", nil).Code)
	assert.Equal(t, 1, calls)
}

func TestHTTPMiddleware_PrincipalScoping(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(newCounter(t, 1, true), HTTPOptions{}, zaptest.NewLogger(t))(okHandler(&calls))

	assert.Equal(t, http.StatusOK, serve(h, "/api", map[string]string{UserIDHeader: "alice"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "/api", map[string]string{UserIDHeader: "alice"}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "/api", map[string]string{UserIDHeader: "bob"}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "/api", nil).Code)
}

func TestHTTPMiddleware_ChallengeClearsCounters(t *testing.T) {
	calls := 0
	opts := HTTPOptions{
		Challenge: func(r *http.Request) bool { return r.Header.Get("X-Challenge") == "passed" },
	}
	h := HTTPMiddleware(newCounter(t, 1, false), opts, zaptest.NewLogger(t))(okHandler(&calls))

	assert.Equal(t, http.StatusOK, serve(h, "/api", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "/api", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, "/api", map[string]string{"X-Challenge": "passed"}).Code)
	// the counter was cleared, so one more call fits
	assert.Equal(t, http.StatusOK, serve(h, "/api", nil).Code)
	assert.Equal(t, 3, calls)
}

func TestHTTPMiddleware_CustomReject(t *testing.T) {
	calls := 0
	opts := HTTPOptions{
		Reject: func(w http.ResponseWriter, _ *http.Request) (any, error) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return nil, nil
		},
	}
	h := HTTPMiddleware(newCounter(t, 1, false), opts, zaptest.NewLogger(t))(okHandler(&calls))

	serve(h, "/api", nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/api", nil).Code)
	assert.Equal(t, 1, calls)
}

func TestHTTPMiddleware_NilLimiterPassesThrough(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(nil, HTTPOptions{}, nil)(okHandler(&calls))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(h, "/api", nil).Code)
	}
	assert.Equal(t, 5, calls)
}

func TestHTTPMiddleware_EngineErrorIs500(t *testing.T) {
	calls := 0
	h := HTTPMiddleware(failingLimiter{}, HTTPOptions{}, zaptest.NewLogger(t))(okHandler(&calls))

	rec := serve(h, "/api", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, calls)
}

func TestIsHealthCheckRequest(t *testing.T) {
	cases := map[string]bool{
		"/health":               true,
		"/HEALTHZ":              true,
		"/metrics":              true,
		"/.well-known/live":     true,
		"/healthz/":             true,
		"/api/v1/status":        false,
		"/api/orders/42/status": false,
		"/users/ping":           false,
		"/api/orders":           false,
		"/healthcheck-settings": false,
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, IsHealthCheckRequest(req), path)
	}
}
