package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAdminSecret = "s3cr3t"

func signToken(t *testing.T, secret, role string, expires time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		UserID: "ops-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAdminAuthenticator_EmptySecretIsOpen(t *testing.T) {
	assert.Nil(t, NewAdminAuthenticator("", nil))

	var auth *AdminAuthenticator
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAdminAPI_RequiresAdminToken(t *testing.T) {
	l := NewFromConfig(enabledConfig(), Dependencies{}, zaptest.NewLogger(t))
	t.Cleanup(l.Close)

	mux := http.NewServeMux()
	NewAdminAPI(l, nil, zaptest.NewLogger(t)).
		WithAuth(NewAdminAuthenticator(testAdminSecret, zaptest.NewLogger(t))).
		RegisterRoutes(mux)

	future := time.Now().Add(time.Hour)
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", "admin", future), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testAdminSecret, "admin", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"not admin", "Bearer " + signToken(t, testAdminSecret, "trader", future), http.StatusForbidden},
		{"admin", "Bearer " + signToken(t, testAdminSecret, "Admin", future), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ratelimit/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHasAdminRole(t *testing.T) {
	assert.True(t, hasAdminRole("", []string{"viewer", "super_admin"}))
	assert.True(t, hasAdminRole(" ROOT ", nil))
	assert.False(t, hasAdminRole("viewer", []string{"trader"}))
}
