package store

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type counter struct {
	n int64
}

// bucket is one expiring map; every entry in it lives for the same ttl.
type bucket struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *counter]
}

// LocalStore keeps counters in process memory, one expiring map per window
// duration so that each window's entries age out on their own schedule.
type LocalStore struct {
	maxEntries int

	mu      sync.RWMutex
	buckets map[time.Duration]*bucket
}

// NewLocalStore pre-creates a map for each duration. Maps for other durations
// are created on first use. maxEntries bounds each map (0 means unbounded);
// the least recently used entry is evicted when the bound is hit.
func NewLocalStore(durations []time.Duration, maxEntries int) *LocalStore {
	s := &LocalStore{
		maxEntries: maxEntries,
		buckets:    make(map[time.Duration]*bucket, len(durations)),
	}
	for _, d := range durations {
		s.bucketFor(d)
	}
	return s
}

func (s *LocalStore) Kind() Kind { return KindLocal }

func (s *LocalStore) bucketFor(ttl time.Duration) *bucket {
	ttl = clampTTL(ttl)

	s.mu.RLock()
	b, ok := s.buckets[ttl]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[ttl]; ok {
		return b
	}
	b = &bucket{cache: expirable.NewLRU[string, *counter](s.maxEntries, nil, ttl)}
	s.buckets[ttl] = b
	return b
}

func (s *LocalStore) snapshot() []*bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	return out
}

// Get looks the key up in every map; the first live entry wins.
func (s *LocalStore) Get(_ context.Context, key string) (int64, bool, error) {
	for _, b := range s.snapshot() {
		b.mu.Lock()
		c, ok := b.cache.Peek(key)
		var n int64
		if ok {
			n = c.n
		}
		b.mu.Unlock()
		if ok {
			return n, true, nil
		}
	}
	return 0, false, nil
}

// Set overwrites the entry and restarts its lifetime in the map for ttl.
func (s *LocalStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	b := s.bucketFor(ttl)
	b.mu.Lock()
	b.cache.Add(key, &counter{n: value})
	b.mu.Unlock()
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	for _, b := range s.snapshot() {
		b.mu.Lock()
		b.cache.Remove(key)
		b.mu.Unlock()
	}
	return nil
}

// IncrementIfUnderCap mutates existing counters in place so their expiry is
// the one set when the entry was added.
func (s *LocalStore) IncrementIfUnderCap(_ context.Context, key string, ttl time.Duration, limit int64) (bool, error) {
	b := s.bucketFor(ttl)
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cache.Get(key)
	if ok && c.n >= limit {
		return true, nil
	}
	if !ok {
		b.cache.Add(key, &counter{n: 1})
		return false, nil
	}
	c.n++
	return false, nil
}

// Len reports the number of live entries across all maps.
func (s *LocalStore) Len() int {
	n := 0
	for _, b := range s.snapshot() {
		n += len(b.cache.Keys())
	}
	return n
}
