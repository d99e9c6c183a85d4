package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/flowlimit/internal/infrastructure/config"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit/store"
)

var startupNotice sync.Once

// Dependencies are the external clients the factory may build stores on.
// Any of them may be nil.
type Dependencies struct {
	Redis redis.UniversalClient
	DB    *gorm.DB
	Clock clock.Clock
}

// Limiters is what NewFromConfig produces. A nil limiter is disabled.
type Limiters struct {
	Counter     *CounterLimiter
	TokenBucket *TokenBucketLimiter
	Coordinator *store.Coordinator
	Local       *store.LocalStore
	SQL         *store.SQLStore
}

// Close releases timers owned by the limiters.
func (l *Limiters) Close() {
	if l != nil && l.Coordinator != nil {
		l.Coordinator.Close()
	}
}

// CounterLimiterOrNil returns the counter limiter as a Limiter, nil when disabled.
func (l *Limiters) CounterLimiterOrNil() Limiter {
	if l == nil || l.Counter == nil {
		return nil
	}
	return l.Counter
}

// TokenBucketOrNil returns the token bucket as a Limiter, nil when disabled.
func (l *Limiters) TokenBucketOrNil() Limiter {
	if l == nil || l.TokenBucket == nil {
		return nil
	}
	return l.TokenBucket
}

// NewFromConfig builds the store stack and both limiters. Configuration
// problems in one limiter are logged and leave only that limiter disabled.
func NewFromConfig(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Limiters {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ratelimit")

	startupNotice.Do(func() {
		logger.Info("flow limiting initialised",
			zap.Bool("enabled", cfg.Enabled),
			zap.Bool("counter_enabled", cfg.Counter.Enabled),
			zap.Bool("token_bucket_enabled", cfg.TokenBucket.Enabled),
			zap.String("data_source", cfg.Counter.DataSource))
	})

	out := &Limiters{}
	if !cfg.Enabled {
		logger.Info("flow limiting disabled by configuration")
		return out
	}

	if cfg.Counter.Enabled {
		out.Counter = buildCounter(cfg, deps, out, logger)
	}
	if cfg.TokenBucket.Enabled {
		tb, err := NewTokenBucketLimiter(TokenBucketConfig{
			RatePerSecond:  cfg.TokenBucket.RatePerSecond,
			Warmup:         cfg.TokenBucket.Warmup,
			AcquireTimeout: cfg.TokenBucket.AcquireTimeout,
			CostPerRequest: cfg.TokenBucket.CostPerRequest,
		}, logger, clockOpt(deps.Clock)...)
		if err != nil {
			logger.Error("token bucket limiter disabled", zap.Error(err))
		} else {
			out.TokenBucket = tb
		}
	}
	return out
}

func clockOpt(c clock.Clock) []TokenBucketOption {
	if c == nil {
		return nil
	}
	return []TokenBucketOption{WithTokenBucketClock(c)}
}

func buildCounter(cfg *config.Config, deps Dependencies, out *Limiters, logger *zap.Logger) *CounterLimiter {
	cc := cfg.Counter
	unit, err := ParseUnit(cc.WindowTimeUnit)
	if err != nil {
		logger.Error("counter limiter disabled", zap.Error(err))
		return nil
	}
	opts := CounterOptions{
		Name:         "counter",
		Prefix:       cc.PrefixKey,
		Keys:         cc.CounterKeys,
		Durations:    cc.WindowDurations,
		Caps:         cc.WindowCaps,
		Unit:         unit,
		PerPrincipal: cc.PerPrincipal,
	}
	if err := opts.Validate(); err != nil {
		logger.Error("counter limiter disabled", zap.Error(err))
		return nil
	}

	durations := make([]time.Duration, len(cc.WindowDurations))
	for i, d := range cc.WindowDurations {
		durations[i] = unit.Duration(d)
	}
	out.Local = store.NewLocalStore(durations, cc.LocalMaxEntries)

	preferred := preferredStore(cfg, deps, out, logger)
	coordOpts := []store.CoordinatorOption{store.WithRecoveryInterval(cfg.Failover.RecoveryInterval)}
	if deps.Clock != nil {
		coordOpts = append(coordOpts, store.WithClock(deps.Clock))
	}
	out.Coordinator = store.NewCoordinator(preferred, out.Local, logger, coordOpts...)

	l, err := NewCounterLimiter(opts, out.Coordinator, logger)
	if err != nil {
		logger.Error("counter limiter disabled", zap.Error(err))
		return nil
	}
	return l
}

func preferredStore(cfg *config.Config, deps Dependencies, out *Limiters, logger *zap.Logger) store.Store {
	kind, err := store.ParseKind(cfg.Counter.DataSource)
	if err != nil {
		logger.Warn("unknown data source, using local store", zap.Error(err))
		return out.Local
	}
	switch kind {
	case store.KindRedis:
		if deps.Redis == nil {
			logger.Warn("redis data source configured without a client, using local store")
			return out.Local
		}
		return store.NewRedisStore(deps.Redis, store.WithTimeout(cfg.Counter.RedisTimeout))
	case store.KindSQL:
		if deps.DB == nil {
			logger.Warn("sql data source configured without a database, using local store")
			return out.Local
		}
		s, err := store.NewSQLStore(deps.DB)
		if err != nil {
			logger.Error("sql store unavailable, using local store", zap.Error(err))
			return out.Local
		}
		out.SQL = s
		return s
	default:
		return out.Local
	}
}
