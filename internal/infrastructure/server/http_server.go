package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	mw "github.com/Aidin1998/flowlimit/internal/infrastructure/middleware/ratelimit"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
)

// HTTPServerOptions contains options for creating an HTTPServer
type HTTPServerOptions struct {
	Addr     string
	Logger   *zap.Logger
	Limiters *ratelimit.Limiters
	// StoreHealth is reported by the admin health endpoint.
	StoreHealth func(ctx context.Context) error
	// AdminSecret signs admin tokens; empty leaves the admin API open.
	AdminSecret string
	ServiceName string
	// APIHandler serves everything under /api. Defaults to an echo handler.
	APIHandler gin.HandlerFunc
}

// HTTPServer serves the limited API, the admin endpoints and the scrape endpoint.
type HTTPServer struct {
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
	opts   HTTPServerOptions
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(opts HTTPServerOptions) (*HTTPServer, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "flowlimit"
	}
	if opts.APIHandler == nil {
		opts.APIHandler = echoHandler
	}

	gin.SetMode(gin.ReleaseMode)
	s := &HTTPServer{
		logger: opts.Logger.Named("http-server"),
		router: gin.New(),
		opts:   opts,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	s.router.Use(ginzap.RecoveryWithZap(s.logger, true))
	s.router.Use(otelgin.Middleware(s.opts.ServiceName))
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", mw.UserIDHeader},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	adminMux := http.NewServeMux()
	ratelimit.NewAdminAPI(s.opts.Limiters, s.opts.StoreHealth, s.logger).
		WithAuth(ratelimit.NewAdminAuthenticator(s.opts.AdminSecret, s.logger)).
		RegisterRoutes(adminMux)
	s.router.Any("/admin/ratelimit/*action", gin.WrapH(adminMux))

	// Counters are checked before the global bucket so that a request over
	// its own limit does not consume bucket capacity.
	api := s.router.Group("/api",
		mw.GinMiddleware(s.opts.Limiters.CounterLimiterOrNil(), mw.GinOptions{}, s.logger),
		mw.GinMiddleware(s.opts.Limiters.TokenBucketOrNil(), mw.GinOptions{}, s.logger),
	)
	api.Any("/*path", s.opts.APIHandler)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "The requested resource was not found",
			"path":    c.Request.URL.Path,
		})
	})
}

func echoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"path":      c.Param("path"),
		"principal": c.GetHeader(mw.UserIDHeader),
	})
}

// Handler returns the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
