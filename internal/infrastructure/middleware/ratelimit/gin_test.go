package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/flowlimit/pkg/errors"
)

func newGinRouter(t *testing.T, mw gin.HandlerFunc, calls *int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Auth-User"); id != "" {
			c.Set(UserIDContextKey, id)
		}
		c.Next()
	})
	r.Use(mw)
	handler := func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
	r.GET("/api/orders", handler)
	r.GET("/healthz", handler)
	return r
}

func ginGet(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGinMiddleware_RejectsOverLimit(t *testing.T) {
	calls := 0
	r := newGinRouter(t, GinMiddleware(newCounter(t, 2, false), GinOptions{}, zaptest.NewLogger(t)), &calls)

	assert.Equal(t, http.StatusOK, ginGet(r, "/api/orders", nil).Code)
	assert.Equal(t, http.StatusOK, ginGet(r, "/api/orders", nil).Code)
	rec := ginGet(r, "/api/orders", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errors.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, calls)

	assert.Equal(t, http.StatusOK, ginGet(r, "/healthz", nil).Code)
	assert.Equal(t, 3, calls)
}

func TestGinMiddleware_PrincipalFromContext(t *testing.T) {
	calls := 0
	r := newGinRouter(t, GinMiddleware(newCounter(t, 1, true), GinOptions{}, zaptest.NewLogger(t)), &calls)

	assert.Equal(t, http.StatusOK, ginGet(r, "/api/orders", map[string]string{"X-Auth-User": "alice"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, ginGet(r, "/api/orders", map[string]string{"X-Auth-User": "alice"}).Code)
	assert.Equal(t, http.StatusOK, ginGet(r, "/api/orders", map[string]string{UserIDHeader: "bob"}).Code)
}

func TestGinMiddleware_EngineErrorIs500(t *testing.T) {
	calls := 0
	r := newGinRouter(t, GinMiddleware(failingLimiter{}, GinOptions{}, zaptest.NewLogger(t)), &calls)

	assert.Equal(t, http.StatusInternalServerError, ginGet(r, "/api/orders", nil).Code)
	assert.Zero(t, calls)
}
