// Package ratelimit adapts the flow-limit engine to net/http, gin and gRPC.
//
// Every adapter builds its own engine around a limiter and wires the request
// type of its framework into the engine hooks. HTTP adapters act as a boolean
// gate: the continuation reports whether the chain may proceed. gRPC adapters
// let the engine invoke the handler itself.
package ratelimit

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	rl "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/flowlimit/pkg/errors"
)

const rejectDetail = "rate limit exceeded"

// HTTPOptions customizes the net/http adapter. Every field is optional.
type HTTPOptions struct {
	// Filter exempts a request. Defaults to IsHealthCheckRequest.
	Filter func(r *http.Request) bool
	// Principal returns the caller identity. Defaults to the X-User-ID header.
	Principal func(r *http.Request) string
	// Challenge reports that the caller passed an out-of-band check.
	Challenge func(r *http.Request) bool
	// Reject writes the rejection. Defaults to a 429 problem response.
	Reject func(w http.ResponseWriter, r *http.Request) (any, error)
	// EngineOptions are passed through to the engine.
	EngineOptions []rl.EngineOption
}

type httpRequest struct {
	w http.ResponseWriter
	r *http.Request
}

func (*httpRequest) Mode() string { return rl.ModeHTTP }

// NewHTTPEngine builds the engine used by HTTPMiddleware.
func NewHTTPEngine(limiter rl.Limiter, opts HTTPOptions, logger *zap.Logger) *rl.Engine {
	filter := opts.Filter
	if filter == nil {
		filter = IsHealthCheckRequest
	}
	principal := opts.Principal
	if principal == nil {
		principal = UserIDFromRequest
	}
	reject := opts.Reject
	if reject == nil {
		reject = writeRateLimited
	}

	hooks := rl.Hooks{
		Filter: func(_ context.Context, req rl.Request) bool {
			return filter(req.(*httpRequest).r)
		},
		Principal: func(_ context.Context, req rl.Request) string {
			return principal(req.(*httpRequest).r)
		},
		Reject: func(_ context.Context, req rl.Request) (any, error) {
			h := req.(*httpRequest)
			return reject(h.w, h.r)
		},
		Continue: gate,
	}
	if opts.Challenge != nil {
		hooks.Challenge = func(_ context.Context, req rl.Request) bool {
			return opts.Challenge(req.(*httpRequest).r)
		}
	}
	return rl.NewEngine(limiter, hooks, logger, opts.EngineOptions...)
}

// HTTPMiddleware limits every request passing through it with limiter. A nil
// limiter lets everything through.
func HTTPMiddleware(limiter rl.Limiter, opts HTTPOptions, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := NewHTTPEngine(limiter, opts, logger)
	log := logger.Named("ratelimit-http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out, err := engine.Evaluate(r.Context(), &httpRequest{w: w, r: r})
			if err != nil {
				log.Error("rate limit evaluation failed",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				_ = errors.WriteProblem(w, errors.NewInternalError("rate limit error", r.URL.Path))
				return
			}
			if pass, _ := out.Result.(bool); pass {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// gate is the continuation of the request-pipeline adapters.
func gate(_ context.Context, _ rl.Request, rejected bool, _ any) (any, error) {
	return !rejected, nil
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) (any, error) {
	p := errors.NewRateLimitError(rejectDetail, r.URL.Path)
	return p, errors.WriteProblem(w, p)
}
