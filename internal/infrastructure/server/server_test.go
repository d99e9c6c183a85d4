package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	mw "github.com/Aidin1998/flowlimit/internal/infrastructure/middleware/ratelimit"
	rl "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit/store"
)

func newLimiters(t *testing.T, limit int32) *rl.Limiters {
	t.Helper()
	local := store.NewLocalStore(nil, 0)
	counter, err := rl.NewCounterLimiter(rl.CounterOptions{
		Name:      "server-test",
		Prefix:    "srv:",
		Keys:      []string{"api"},
		Durations: []int64{60},
		Caps:      []int32{limit},
		Unit:      rl.UnitSeconds,
	}, local, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &rl.Limiters{Counter: counter, Local: local}
}

func newTestHTTPServer(t *testing.T, limiters *rl.Limiters, secret string) *HTTPServer {
	t.Helper()
	s, err := NewHTTPServer(HTTPServerOptions{
		Addr:        "127.0.0.1:0",
		Logger:      zaptest.NewLogger(t),
		Limiters:    limiters,
		AdminSecret: secret,
	})
	require.NoError(t, err)
	return s
}

func TestNewHTTPServer_RequiresLogger(t *testing.T) {
	_, err := NewHTTPServer(HTTPServerOptions{})
	assert.Error(t, err)
}

func TestHTTPServer_APIIsLimited(t *testing.T) {
	s := newTestHTTPServer(t, newLimiters(t, 2), "")

	got := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set(mw.UserIDHeader, "alice")
		s.Handler().ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, got)
}

func TestHTTPServer_HealthAndMetricsUnlimited(t *testing.T) {
	s := newTestHTTPServer(t, newLimiters(t, 1), "")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPServer_NoRoute(t *testing.T) {
	s := newTestHTTPServer(t, nil, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHTTPServer_AdminRequiresTokenWhenSecretSet(t *testing.T) {
	s := newTestHTTPServer(t, newLimiters(t, 10), "admin-secret")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPServer_AdminOpenWithoutSecret(t *testing.T) {
	s := newTestHTTPServer(t, newLimiters(t, 10), "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Health check completed")
}

func TestHTTPServer_CORSPreflight(t *testing.T) {
	s := newTestHTTPServer(t, nil, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://client.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func startGRPC(t *testing.T, limiters *rl.Limiters) healthpb.HealthClient {
	t.Helper()
	s, err := NewGRPCServer(GRPCServerOptions{Logger: zaptest.NewLogger(t), Limiters: limiters})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Start(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestGRPCServer_HealthIsLimited(t *testing.T) {
	client := startGRPC(t, newLimiters(t, 1))
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCServer_NoLimiters(t *testing.T) {
	client := startGRPC(t, nil)
	for i := 0; i < 3; i++ {
		_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
	}
}

func TestGRPCServer_RecoversFromPanic(t *testing.T) {
	s, err := NewGRPCServer(GRPCServerOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = s.recoveryUnary(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/test.Svc/Boom"},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGRPCServer_StopHonoursContext(t *testing.T) {
	s, err := NewGRPCServer(GRPCServerOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}
