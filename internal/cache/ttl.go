// Package cache holds the engine's in-memory TTL cache and the Redis-backed
// content index.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"iamstagram_engine/internal/metrics"
)

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) valid(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}

// Cache is a key/value store with per-entry expiry. Expired entries are
// evicted lazily when read; there is no background sweep.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics

	group singleflight.Group
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(key string) (any, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge also reports how long ago the entry was stored.
func (c *Cache) GetWithAge(key string) (any, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok {
		c.metrics.CacheMiss(family(key))
		return nil, 0, false
	}
	if !e.valid(now) {
		delete(c.entries, key)
		c.metrics.CacheEviction(family(key))
		c.metrics.CacheMiss(family(key))
		return nil, 0, false
	}
	c.metrics.CacheHit(family(key))
	return e.value, now.Sub(e.storedAt), true
}

func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value for ttl. A non-positive ttl falls back to the default.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateByPrefix drops every key starting with prefix and returns how many.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	return c.InvalidateFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

// InvalidateContaining drops every key containing substr.
func (c *Cache) InvalidateContaining(substr string) int {
	return c.InvalidateFunc(func(key string) bool { return strings.Contains(key, substr) })
}

func (c *Cache) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until they are read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get is the typed form of Cache.Get. A value of another type reads as a miss.
func Get[T any](c *Cache, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Fetch returns the cached value for key or loads it. Concurrent Fetch calls
// for the same key share one load. Successful loads are stored for ttl;
// errors are not cached.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := Get[T](c, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := Get[T](c, key); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.SetWithTTL(key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Forget drops an in-flight single-flight call so the next Fetch starts fresh.
func (c *Cache) Forget(key string) {
	c.group.Forget(key)
}
