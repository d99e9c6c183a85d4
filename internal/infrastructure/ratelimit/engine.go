package ratelimit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"

// State is a step of one evaluation.
type State int

const (
	StateStart State = iota
	StateFiltered
	StateChecking
	StateLimited
	StateChallenged
	StateRejected
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFiltered:
		return "filtered"
	case StateChecking:
		return "checking"
	case StateLimited:
		return "limited"
	case StateChallenged:
		return "challenged"
	case StateRejected:
		return "rejected"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Engine sequences filter, check, challenge, reject and continuation for one
// limiter. It is safe for concurrent use and holds no per-request state.
type Engine struct {
	limiter  Limiter
	hooks    Hooks
	logger   *zap.Logger
	tracer   trace.Tracer
	observer func(ctx context.Context, s State)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStateObserver is called on every state an evaluation passes through.
func WithStateObserver(fn func(ctx context.Context, s State)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// WithTracer overrides the global tracer provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine builds an engine around limiter. A nil limiter yields a disabled
// engine that lets everything through to the continuation.
func NewEngine(limiter Limiter, hooks Hooks, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		limiter: limiter,
		hooks:   hooks,
		logger:  logger.Named("ratelimit-engine"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports whether the engine has a limiter.
func (e *Engine) Enabled() bool { return e != nil && e.limiter != nil }

func (e *Engine) limiterName() string {
	if e.limiter == nil {
		return "none"
	}
	return e.limiter.Name()
}

func (e *Engine) enter(ctx context.Context, span trace.Span, s State) {
	span.AddEvent(s.String())
	if e.observer != nil {
		e.observer(ctx, s)
	}
}

// Evaluate runs one request through the engine. Errors from the reject or
// continuation hooks are returned unchanged. Store failures never surface
// here; they are absorbed by the store coordinator.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	if e == nil {
		return Outcome{}, ErrNotInitialized
	}
	start := time.Now()
	name := e.limiterName()
	ctx, span := e.tracer.Start(ctx, "ratelimit.Evaluate", trace.WithAttributes(
		attribute.String("ratelimit.limiter", name),
		attribute.String("ratelimit.mode", req.Mode()),
	))
	defer span.End()

	out, label, err := e.evaluate(ctx, span, req)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if label == "" {
			label = outcomeError
		}
	}
	span.SetAttributes(
		attribute.String("ratelimit.outcome", label),
		attribute.Bool("ratelimit.rejected", out.Rejected),
	)
	decisionsTotal.WithLabelValues(name, req.Mode(), label).Inc()
	evaluateDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return out, err
}

func (e *Engine) evaluate(ctx context.Context, span trace.Span, req Request) (Outcome, string, error) {
	e.enter(ctx, span, StateStart)

	label := outcomeAllowed
	limited := false
	var subject Subject

	switch {
	case e.limiter == nil:
		label = outcomeDisabled
	case e.hooks.filter(ctx, req):
		e.enter(ctx, span, StateFiltered)
		label = outcomeFiltered
	default:
		e.enter(ctx, span, StateChecking)
		subject = e.subject(ctx, req)
		var err error
		limited, err = e.limiter.Check(ctx, subject)
		if err != nil {
			e.logger.Error("limiter check failed",
				zap.String("limiter", e.limiter.Name()),
				zap.String("mode", subject.Mode),
				zap.Error(err))
			return Outcome{}, outcomeError, err
		}
	}

	rejected := false
	var payload any
	if limited {
		e.enter(ctx, span, StateLimited)
		if acceptsChallenge(e.limiter) && e.hooks.challenge(ctx, req) {
			e.enter(ctx, span, StateChallenged)
			label = outcomeChallenged
			if err := e.limiter.Reset(ctx, subject); err != nil {
				e.logger.Error("limiter reset after challenge failed",
					zap.String("limiter", e.limiter.Name()),
					zap.Error(err))
				return Outcome{}, outcomeError, err
			}
		} else {
			e.enter(ctx, span, StateRejected)
			label = outcomeRejected
			rejected = true
			var err error
			payload, err = e.hooks.reject(ctx, req)
			if err != nil {
				return Outcome{Rejected: true}, label, err
			}
		}
	}

	result, err := e.hooks.proceed(ctx, req, rejected, payload)
	e.enter(ctx, span, StateCompleted)
	return Outcome{
		Allowed:  !rejected,
		Rejected: rejected,
		Payload:  payload,
		Result:   result,
	}, label, err
}

func (e *Engine) subject(ctx context.Context, req Request) Subject {
	s := Subject{Mode: req.Mode()}
	if p, ok := e.limiter.(principalScoped); ok && p.PerPrincipal() {
		s.Principal = e.hooks.principal(ctx, req)
	}
	return s
}

func acceptsChallenge(l Limiter) bool {
	c, ok := l.(challengeable)
	return ok && c.AcceptsChallenge()
}
