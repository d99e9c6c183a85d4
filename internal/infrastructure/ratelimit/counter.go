package ratelimit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit/store"
)

// CounterLimiter enforces an ordered set of fixed windows over a Store.
//
// Windows are checked in configured order and evaluation stops at the first
// window over its cap, so later windows are not incremented by a call that an
// earlier window already blocked.
type CounterLimiter struct {
	name         string
	windows      WindowSet
	keys         KeyBuilder
	perPrincipal bool
	store        store.Store
	logger       *zap.Logger
}

// NewCounterLimiter validates opts and builds the window set. Problems that
// only warrant a warning are logged.
func NewCounterLimiter(opts CounterOptions, st store.Store, logger *zap.Logger) (*CounterLimiter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		return nil, fmt.Errorf("%w: counter limiter needs a store", ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Unit == "" {
		opts.Unit = UnitSeconds
	}
	name := opts.Name
	if name == "" {
		name = "counter"
	}
	logger = logger.Named("counter-limiter").With(zap.String("limiter", name))
	for _, w := range opts.Warnings() {
		logger.Warn("counter limiter configuration", zap.String("warning", w))
	}

	kb := NewKeyBuilder(opts.Prefix, opts.PerPrincipal)
	l := &CounterLimiter{
		name:         name,
		windows:      kb.Windows(opts.Keys, opts.Durations, opts.Unit, opts.Caps),
		keys:         kb,
		perPrincipal: opts.PerPrincipal,
		store:        st,
		logger:       logger,
	}
	for i, w := range l.windows {
		logger.Debug("window configured",
			zap.Int("index", i),
			zap.String("key", w.Key),
			zap.Duration("duration", w.Duration),
			zap.Int32("cap", w.Cap))
	}
	return l, nil
}

func (l *CounterLimiter) Name() string { return l.name }

func (l *CounterLimiter) PerPrincipal() bool { return l.perPrincipal }

func (l *CounterLimiter) AcceptsChallenge() bool { return true }

// Windows returns a copy of the configured windows.
func (l *CounterLimiter) Windows() WindowSet {
	out := make(WindowSet, len(l.windows))
	copy(out, l.windows)
	return out
}

// KeyFor returns the storage key window i uses for s.
func (l *CounterLimiter) KeyFor(i int, s Subject) string {
	return l.keys.Key(l.windows[i], s)
}

func (l *CounterLimiter) Check(ctx context.Context, s Subject) (bool, error) {
	if l == nil || l.store == nil {
		return false, ErrNotInitialized
	}
	for _, w := range l.windows {
		key := l.keys.Key(w, s)
		over, err := l.store.IncrementIfUnderCap(ctx, key, w.Duration, int64(w.Cap))
		if err != nil {
			return false, fmt.Errorf("increment %s: %w", key, err)
		}
		if over {
			l.logger.Debug("window over cap",
				zap.String("key", key),
				zap.Int32("cap", w.Cap),
				zap.Duration("window", w.Duration))
			return true, nil
		}
	}
	return false, nil
}

// Reset deletes every window's counter for s. Deleting a missing key is not an error.
func (l *CounterLimiter) Reset(ctx context.Context, s Subject) error {
	if l == nil || l.store == nil {
		return ErrNotInitialized
	}
	for _, w := range l.windows {
		key := l.keys.Key(w, s)
		if err := l.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}
