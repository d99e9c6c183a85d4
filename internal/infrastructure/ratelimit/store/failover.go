package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultRecoveryInterval is how long the coordinator stays on the local
// backend before switching back to the preferred one.
const DefaultRecoveryInterval = time.Hour

// State is a snapshot of the coordinator's backend selection.
type State struct {
	Active        Kind
	DegradedSince time.Time
}

// Degraded reports whether the snapshot was taken while failed over.
func (s State) Degraded() bool { return !s.DegradedSince.IsZero() }

// Coordinator routes counter operations to the preferred backend and falls
// back to the local one when the preferred backend errors. Recovery is purely
// time based: a one-shot timer restores the preferred backend after
// RecoveryInterval. The call that observed the failure is not retried; it
// returns the fail-open default for its operation.
type Coordinator struct {
	preferred Store
	local     Store
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu            sync.RWMutex
	active        Store
	degradedSince time.Time
	timer         *clock.Timer
	generation    uint64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithRecoveryInterval overrides DefaultRecoveryInterval.
func WithRecoveryInterval(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) {
		if d > 0 {
			co.interval = d
		}
	}
}

// NewCoordinator starts on preferred. When preferred and local are the same
// store there is nothing to fail over to and errors are returned as is.
func NewCoordinator(preferred, local Store, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		preferred: preferred,
		local:     local,
		interval:  DefaultRecoveryInterval,
		clock:     clock.New(),
		logger:    logger.Named("store-coordinator"),
		active:    preferred,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publishActive(preferred)
	return c
}

func (c *Coordinator) current() Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// State returns the current backend selection.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{Active: kindOf(c.active), DegradedSince: c.degradedSince}
}

func (c *Coordinator) Degraded() bool { return c.State().Degraded() }

// Close stops a pending recovery timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// handle decides what a failed call does next. It returns true when the error
// was absorbed by degrading, false when the caller must see it.
func (c *Coordinator) handle(s Store, op string, key string, err error) bool {
	storeErrors.WithLabelValues(kindOf(s).String(), op).Inc()
	if s == c.local {
		return false
	}
	c.degrade(s, op, key, err)
	return true
}

func (c *Coordinator) degrade(failed Store, op, key string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	alreadyDegraded := !c.degradedSince.IsZero()

	c.active = c.local
	c.degradedSince = now
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.generation
	c.timer = c.clock.AfterFunc(c.interval, func() { c.recover(gen) })

	storeFailovers.WithLabelValues(kindOf(failed).String()).Inc()
	c.publishActive(c.local)

	c.logger.Error("counter backend failed, switching to local store",
		zap.String("failed", kindOf(failed).String()),
		zap.String("op", op),
		zap.String("key", key),
		zap.Bool("already_degraded", alreadyDegraded),
		zap.Time("recover_at", now.Add(c.interval)),
		zap.Error(cause))
}

func (c *Coordinator) recover(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	degradedFor := c.clock.Now().Sub(c.degradedSince)
	c.active = c.preferred
	c.degradedSince = time.Time{}
	c.timer = nil

	storeRecoveries.Inc()
	c.publishActive(c.preferred)

	c.logger.Warn("switching back to preferred counter backend",
		zap.String("backend", kindOf(c.preferred).String()),
		zap.Duration("degraded_for", degradedFor))
}

func (c *Coordinator) publishActive(s Store) {
	for _, k := range []Kind{KindRedis, KindLocal, KindSQL} {
		storeActive.WithLabelValues(k.String()).Set(0)
	}
	storeActive.WithLabelValues(kindOf(s).String()).Set(1)
}

func (c *Coordinator) Get(ctx context.Context, key string) (int64, bool, error) {
	s := c.current()
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		if c.handle(s, "get", key, err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, ok, nil
}

func (c *Coordinator) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s := c.current()
	if err := s.Set(ctx, key, value, ttl); err != nil {
		if c.handle(s, "set", key, err) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Coordinator) Delete(ctx context.Context, key string) error {
	s := c.current()
	if err := s.Delete(ctx, key); err != nil {
		if c.handle(s, "delete", key, err) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Coordinator) IncrementIfUnderCap(ctx context.Context, key string, ttl time.Duration, limit int64) (bool, error) {
	s := c.current()
	over, err := s.IncrementIfUnderCap(ctx, key, ttl, limit)
	if err != nil {
		if c.handle(s, "increment", key, err) {
			return false, nil
		}
		return false, err
	}
	return over, nil
}
