// tokenbucket.go: Global token bucket with warm-up and bounded acquisition wait
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// coldFactor is how much slower than the target rate a cold bucket issues tokens.
const coldFactor = 3.0

// TokenBucketLimiter throttles all traffic through one shared bucket.
//
// A cold bucket starts at a third of the target rate and ramps linearly to
// the full rate over the warm-up period. The bucket goes cold on
// construction, on SetRate and after sitting idle for longer than the warm-up
// period. A call that cannot get its tokens within the acquire timeout is
// limited and consumes nothing.
type TokenBucketLimiter struct {
	name    string
	cost    int
	warmup  time.Duration
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	target    float64
	coldSince time.Time
	lastUsed  time.Time
	limiter   *rate.Limiter
}

// TokenBucketOption configures a TokenBucketLimiter.
type TokenBucketOption func(*TokenBucketLimiter)

// WithTokenBucketClock replaces the wall clock.
func WithTokenBucketClock(c clock.Clock) TokenBucketOption {
	return func(l *TokenBucketLimiter) { l.clock = c }
}

// WithTokenBucketName sets the name reported in metrics.
func WithTokenBucketName(name string) TokenBucketOption {
	return func(l *TokenBucketLimiter) { l.name = name }
}

func NewTokenBucketLimiter(cfg TokenBucketConfig, logger *zap.Logger, opts ...TokenBucketOption) (*TokenBucketLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &TokenBucketLimiter{
		name:    "token_bucket",
		cost:    int(cfg.CostPerRequest),
		warmup:  cfg.Warmup,
		timeout: cfg.AcquireTimeout,
		clock:   clock.New(),
		target:  cfg.RatePerSecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.Named("token-bucket").With(zap.String("limiter", l.name))

	now := l.clock.Now()
	l.coldSince = now
	l.lastUsed = now
	l.limiter = rate.NewLimiter(rate.Limit(l.effectiveRateLocked(now)), l.cost)
	tokenBucketRate.WithLabelValues(l.name).Set(l.target)

	l.logger.Info("token bucket configured",
		zap.Float64("rate_per_second", cfg.RatePerSecond),
		zap.Duration("warmup", cfg.Warmup),
		zap.Duration("acquire_timeout", cfg.AcquireTimeout),
		zap.Int32("cost", cfg.CostPerRequest))
	return l, nil
}

func (l *TokenBucketLimiter) Name() string { return l.name }

func (l *TokenBucketLimiter) PerPrincipal() bool { return false }

// AcceptsChallenge is false: global throughput is not something a single
// caller can be excused from.
func (l *TokenBucketLimiter) AcceptsChallenge() bool { return false }

// Rate returns the target rate in tokens per second.
func (l *TokenBucketLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// SetRate changes the target rate. The new rate applies to the next
// acquisition and the bucket warms up again.
func (l *TokenBucketLimiter) SetRate(r float64) error {
	cfg := TokenBucketConfig{RatePerSecond: r, CostPerRequest: int32(l.cost)}
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.target
	now := l.clock.Now()
	l.target = r
	l.coldSince = now
	l.limiter.SetLimitAt(now, rate.Limit(l.effectiveRateLocked(now)))
	tokenBucketRate.WithLabelValues(l.name).Set(r)

	l.logger.Info("token bucket rate changed",
		zap.Float64("old_rate", old),
		zap.Float64("new_rate", r))
	return nil
}

// effectiveRateLocked is the rate the bucket issues at now. Caller must hold l.mu.
func (l *TokenBucketLimiter) effectiveRateLocked(now time.Time) float64 {
	if l.warmup <= 0 {
		return l.target
	}
	elapsed := now.Sub(l.coldSince)
	if elapsed >= l.warmup {
		return l.target
	}
	frac := float64(elapsed) / float64(l.warmup)
	if frac < 0 {
		frac = 0
	}
	cold := l.target / coldFactor
	return cold + (l.target-cold)*frac
}

func (l *TokenBucketLimiter) reserve() (*rate.Reservation, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.warmup > 0 && now.Sub(l.lastUsed) > l.warmup {
		l.coldSince = now
	}
	l.lastUsed = now
	l.limiter.SetLimitAt(now, rate.Limit(l.effectiveRateLocked(now)))
	return l.limiter.ReserveN(now, l.cost), now
}

func (l *TokenBucketLimiter) Check(ctx context.Context, _ Subject) (bool, error) {
	if l == nil || l.limiter == nil {
		return false, ErrNotInitialized
	}
	r, now := l.reserve()
	if !r.OK() {
		return true, nil
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return false, nil
	}
	if delay > l.timeout {
		r.CancelAt(now)
		return true, nil
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(delay)) {
		r.CancelAt(now)
		return true, nil
	}

	t := l.clock.Timer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return true, nil
	}
}

// Reset is a no-op; the bucket holds no per-subject state.
func (l *TokenBucketLimiter) Reset(context.Context, Subject) error {
	if l == nil {
		return ErrNotInitialized
	}
	return nil
}
