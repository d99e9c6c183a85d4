// Package store holds the counter backends used by the multi-window limiter
// and the coordinator that fails over between them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindRedis Kind = "redis"
	KindLocal Kind = "local"
	KindSQL   Kind = "sql"
)

func (k Kind) String() string { return string(k) }

// ErrUnknownKind is returned when a data source name does not map to a backend.
var ErrUnknownKind = errors.New("store: unknown data source")

// ParseKind maps a configured data source name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "redis", "":
		return KindRedis, nil
	case "local", "memory", "caffeine":
		return KindLocal, nil
	case "sql", "mysql", "postgres", "sqlite":
		return KindSQL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Store is the capability set every counter backend provides.
//
// IncrementIfUnderCap is atomic per key: the current count is compared
// against limit and, only when below it, incremented. A newly created entry
// expires ttl after creation; incrementing an existing entry never moves its
// expiry.
type Store interface {
	Get(ctx context.Context, key string) (value int64, found bool, err error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	IncrementIfUnderCap(ctx context.Context, key string, ttl time.Duration, limit int64) (overLimit bool, err error)
}

// Kinded is implemented by stores that can report their backend kind.
type Kinded interface {
	Kind() Kind
}

func kindOf(s Store) Kind {
	if k, ok := s.(Kinded); ok {
		return k.Kind()
	}
	return Kind("custom")
}

// clampTTL enforces the 1ms floor on entry lifetimes.
func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
