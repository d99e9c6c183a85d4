// types.go: Core types and interfaces shared by the engine, limiters and adapters
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotInitialized is returned when a limiter or engine is used before construction.
	ErrNotInitialized = errors.New("ratelimit: not initialized")
	// ErrInvalidConfig wraps every configuration problem found at construction.
	ErrInvalidConfig = errors.New("ratelimit: invalid configuration")
)

// Mode tags keep the same logical operation from colliding when it is
// intercepted by different adapter families.
const (
	ModeHTTP = "http:"
	ModeGRPC = "grpc:"
)

// Request is the per-call handle an adapter passes to the engine.
type Request interface {
	Mode() string
}

// Proceeder is implemented by requests that wrap an underlying operation.
// The default continuation invokes it when the call was not rejected.
type Proceeder interface {
	Proceed(ctx context.Context) (any, error)
}

// Subject is what a limiter keys its state on.
type Subject struct {
	Mode      string
	Principal string
}

// Limiter decides whether a subject is over its limit.
type Limiter interface {
	Name() string
	// Check reports true when the subject is limited.
	Check(ctx context.Context, s Subject) (bool, error)
	// Reset clears any state held for the subject.
	Reset(ctx context.Context, s Subject) error
}

// principalScoped is implemented by limiters that key on the principal.
type principalScoped interface {
	PerPrincipal() bool
}

// challengeable is implemented by limiters that let a passed challenge
// clear their state. Limiters without it are never challenged.
type challengeable interface {
	AcceptsChallenge() bool
}

// Window is one (key, duration, cap) counter.
type Window struct {
	Key      string
	Duration time.Duration
	Cap      int32
}

// WindowSet is evaluated in order; it is not modified after construction.
type WindowSet []Window

// Outcome is the result of one evaluation.
type Outcome struct {
	Allowed  bool
	Rejected bool
	// Payload is what the reject hook produced, if anything.
	Payload any
	// Result is what the continuation produced.
	Result any
}

// Hooks are the adapter-side capabilities. Every field is optional.
type Hooks struct {
	// Filter exempts a request from limiting when it returns true.
	Filter func(ctx context.Context, req Request) bool
	// Principal returns the identity counters are scoped to; "" means global.
	Principal func(ctx context.Context, req Request) string
	// Challenge returns true when the caller passed an out-of-band check and
	// the limiter state should be cleared instead of rejecting.
	Challenge func(ctx context.Context, req Request) bool
	// Reject builds the rejection payload.
	Reject func(ctx context.Context, req Request) (any, error)
	// Continue produces the final result. Left nil, a non-rejected Proceeder
	// is proceeded and everything else returns the payload.
	Continue func(ctx context.Context, req Request, rejected bool, payload any) (any, error)
}

func (h Hooks) filter(ctx context.Context, req Request) bool {
	return h.Filter != nil && h.Filter(ctx, req)
}

func (h Hooks) principal(ctx context.Context, req Request) string {
	if h.Principal == nil {
		return ""
	}
	return h.Principal(ctx, req)
}

func (h Hooks) challenge(ctx context.Context, req Request) bool {
	return h.Challenge != nil && h.Challenge(ctx, req)
}

func (h Hooks) reject(ctx context.Context, req Request) (any, error) {
	if h.Reject == nil {
		return nil, nil
	}
	return h.Reject(ctx, req)
}

func (h Hooks) proceed(ctx context.Context, req Request, rejected bool, payload any) (any, error) {
	if h.Continue != nil {
		return h.Continue(ctx, req, rejected, payload)
	}
	if !rejected {
		if p, ok := req.(Proceeder); ok {
			return p.Proceed(ctx)
		}
	}
	return payload, nil
}
