// Package cache provides TTL caches behind port.Cache: a simple in-memory
// implementation and a Redis-backed one for deployments that already run
// Redis. The profile service uses whichever is configured for its optimistic
// local copy of the user profile.
package cache

import (
	"sync"
	"time"
)

// sweepEvery is the number of writes between expired-entry sweeps.
const sweepEvery = 64

type item[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with per-entry TTL. Expired
// entries are dropped lazily on read and swept every sweepEvery writes, so
// the cache never needs a background goroutine.
type InMemory[T any] struct {
	mu     sync.RWMutex
	items  map[string]item[T]
	ttl    time.Duration
	writes int
}

// New creates an in-memory cache whose entries live for ttl.
func New[T any](ttl time.Duration) *InMemory[T] {
	return &InMemory[T]{
		items: make(map[string]item[T]),
		ttl:   ttl,
	}
}

// Get returns the cached value, or false when the key is absent or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}
	if time.Now().After(it.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, still := c.items[key]; still && time.Now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set stores a value under key for the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[T]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.writes++
	if c.writes%sweepEvery == 0 {
		now := time.Now()
		for k, it := range c.items {
			if now.After(it.expiresAt) {
				delete(c.items, k)
			}
		}
	}
}

// Delete removes key from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}
