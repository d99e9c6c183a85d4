package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementIfUnderCapScript checks the counter against the cap and increments
// it in one round trip. Returns 0 when blocked, 1 when allowed. The expiry is
// only set when the increment created the key.
var incrementIfUnderCapScript = redis.NewScript(`
local c
c = redis.call('get', KEYS[1])
if c and tonumber(c) >= tonumber(ARGV[1]) then
  return 0
end
c = redis.call('incr', KEYS[1])
if tonumber(c) == 1 then
  redis.call('pexpire', KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore is the shared durable backend.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout bounds every Redis round trip. Zero leaves the caller's context untouched.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = d }
}

// NewRedisStore wraps an existing client. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Kind() Kind { return KindRedis }

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IncrementIfUnderCap(ctx context.Context, key string, ttl time.Duration, limit int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttlMs := clampTTL(ttl).Milliseconds()
	res, err := incrementIfUnderCapScript.Run(ctx, s.client, []string{key}, limit, ttlMs).Int64()
	if err != nil {
		return false, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return res == 0, nil
}
