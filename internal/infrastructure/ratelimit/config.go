// config.go: Limiter construction options and their validation
package ratelimit

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Unit is the time unit window durations are configured in.
type Unit string

const (
	UnitMilliseconds Unit = "ms"
	UnitSeconds      Unit = "s"
	UnitMinutes      Unit = "m"
	UnitHours        Unit = "h"
	UnitDays         Unit = "d"
)

// ParseUnit accepts the short forms and the spelled-out names.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ms", "millisecond", "milliseconds":
		return UnitMilliseconds, nil
	case "", "s", "second", "seconds":
		return UnitSeconds, nil
	case "m", "minute", "minutes":
		return UnitMinutes, nil
	case "h", "hour", "hours":
		return UnitHours, nil
	case "d", "day", "days":
		return UnitDays, nil
	}
	return "", fmt.Errorf("%w: unknown time unit %q", ErrInvalidConfig, s)
}

// Duration converts n units, never returning less than a millisecond.
func (u Unit) Duration(n int64) time.Duration {
	var base time.Duration
	switch u {
	case UnitMilliseconds:
		base = time.Millisecond
	case UnitMinutes:
		base = time.Minute
	case UnitHours:
		base = time.Hour
	case UnitDays:
		base = 24 * time.Hour
	default:
		base = time.Second
	}
	d := time.Duration(n) * base
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

// CounterOptions configure a CounterLimiter.
type CounterOptions struct {
	Name         string
	Prefix       string
	Keys         []string
	Durations    []int64
	Caps         []int32
	Unit         Unit
	PerPrincipal bool
}

// Validate returns a fatal problem, if any. A key list that does not match
// the window count is not fatal; see Warnings.
func (o CounterOptions) Validate() error {
	if len(o.Durations) == 0 {
		return fmt.Errorf("%w: no windows configured", ErrInvalidConfig)
	}
	if len(o.Durations) != len(o.Caps) {
		return fmt.Errorf("%w: %d window durations but %d caps", ErrInvalidConfig, len(o.Durations), len(o.Caps))
	}
	for i, d := range o.Durations {
		if d <= 0 {
			return fmt.Errorf("%w: window %d duration must be positive, got %d", ErrInvalidConfig, i, d)
		}
		if o.Caps[i] <= 0 {
			return fmt.Errorf("%w: window %d cap must be positive, got %d", ErrInvalidConfig, i, o.Caps[i])
		}
	}
	return nil
}

// Warnings lists non-fatal configuration problems.
func (o CounterOptions) Warnings() []string {
	var out []string
	if len(o.Keys) > 0 && len(o.Keys) != len(o.Durations) {
		out = append(out, fmt.Sprintf("%d counter keys for %d windows; keys are paired by position and the rest synthesized", len(o.Keys), len(o.Durations)))
	}
	return out
}

// TokenBucketConfig configures the global token bucket. Only RatePerSecond
// may change after construction.
type TokenBucketConfig struct {
	RatePerSecond  float64
	Warmup         time.Duration
	AcquireTimeout time.Duration
	CostPerRequest int32
}

// DefaultTokenBucketConfig effectively disables throttling until a rate is set.
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		RatePerSecond:  math.MaxInt32,
		Warmup:         3 * time.Second,
		AcquireTimeout: time.Second,
		CostPerRequest: 1,
	}
}

func (c TokenBucketConfig) Validate() error {
	if c.RatePerSecond <= 0 || math.IsNaN(c.RatePerSecond) || math.IsInf(c.RatePerSecond, 0) {
		return fmt.Errorf("%w: rate per second must be a positive number, got %v", ErrInvalidConfig, c.RatePerSecond)
	}
	if c.CostPerRequest < 1 {
		return fmt.Errorf("%w: cost per request must be at least 1, got %d", ErrInvalidConfig, c.CostPerRequest)
	}
	if c.Warmup < 0 || c.AcquireTimeout < 0 {
		return fmt.Errorf("%w: warmup and acquire timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}
