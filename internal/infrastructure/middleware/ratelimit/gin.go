package ratelimit

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	rl "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/flowlimit/pkg/errors"
)

// GinOptions customizes the gin adapter. Every field is optional.
type GinOptions struct {
	Filter    func(c *gin.Context) bool
	Principal func(c *gin.Context) string
	Challenge func(c *gin.Context) bool
	// Reject must abort the context. Defaults to a 429 problem response.
	Reject        func(c *gin.Context) (any, error)
	EngineOptions []rl.EngineOption
}

type ginRequest struct {
	c *gin.Context
}

func (*ginRequest) Mode() string { return rl.ModeHTTP }

func defaultGinPrincipal(c *gin.Context) string {
	if id := UserIDFromRequest(c.Request); id != "" {
		return id
	}
	return c.GetString(UserIDContextKey)
}

func abortRateLimited(c *gin.Context) (any, error) {
	c.Abort()
	_, err := writeRateLimited(c.Writer, c.Request)
	return c.Writer.Status(), err
}

// GinMiddleware is the gin flavour of HTTPMiddleware. Both share the http mode
// tag, so they count against the same keys.
func GinMiddleware(limiter rl.Limiter, opts GinOptions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	filter := opts.Filter
	if filter == nil {
		filter = func(c *gin.Context) bool { return IsHealthCheckRequest(c.Request) }
	}
	principal := opts.Principal
	if principal == nil {
		principal = defaultGinPrincipal
	}
	reject := opts.Reject
	if reject == nil {
		reject = abortRateLimited
	}

	hooks := rl.Hooks{
		Filter: func(_ context.Context, req rl.Request) bool {
			return filter(req.(*ginRequest).c)
		},
		Principal: func(_ context.Context, req rl.Request) string {
			return principal(req.(*ginRequest).c)
		},
		Reject: func(_ context.Context, req rl.Request) (any, error) {
			return reject(req.(*ginRequest).c)
		},
		Continue: gate,
	}
	if opts.Challenge != nil {
		hooks.Challenge = func(_ context.Context, req rl.Request) bool {
			return opts.Challenge(req.(*ginRequest).c)
		}
	}
	engine := rl.NewEngine(limiter, hooks, logger, opts.EngineOptions...)
	log := logger.Named("ratelimit-gin")

	return func(c *gin.Context) {
		out, err := engine.Evaluate(c.Request.Context(), &ginRequest{c: c})
		if err != nil {
			log.Error("rate limit evaluation failed",
				zap.String("path", c.FullPath()),
				zap.Error(err))
			c.Abort()
			if !c.Writer.Written() {
				_ = errors.WriteProblem(c.Writer, errors.NewInternalError("rate limit error", c.Request.URL.Path))
			}
			return
		}
		if pass, _ := out.Result.(bool); !pass {
			c.Abort()
			return
		}
		c.Next()
	}
}
