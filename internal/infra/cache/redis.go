package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed cache with TTL. Values are stored as JSON, so T
// must marshal cleanly. Redis failures degrade to cache misses; the
// authoritative copy always lives in the document store.
type Redis[T any] struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache using the given client. All keys are
// namespaced under prefix.
func NewRedis[T any](rdb *redis.Client, prefix string, ttl time.Duration) *Redis[T] {
	return &Redis[T]{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Get retrieves a value. Returns false if missing, expired, or on any Redis
// or decode error.
func (c *Redis[T]) Get(key string) (T, bool) {
	var zero T
	val, err := c.rdb.Get(context.Background(), c.prefix+key).Result()
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return zero, false
	}
	return out, true
}

// Set stores a value with the configured TTL. Errors are dropped.
func (c *Redis[T]) Set(key string, value T) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.rdb.Set(context.Background(), c.prefix+key, b, c.ttl)
}

// Delete removes a value.
func (c *Redis[T]) Delete(key string) {
	c.rdb.Del(context.Background(), c.prefix+key)
}
