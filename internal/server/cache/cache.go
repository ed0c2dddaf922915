// Package cache is the key-value capability behind sessions, rate counters
// and profile caching: string values, per-key time-to-live, and atomic
// single-key writes. RedisStore is the production backend; MemoryStore
// serves tests and single-process development.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key does not exist or has expired.
var ErrMiss = errors.New("cache miss")

// Store is implemented by RedisStore and MemoryStore. Transport failures are
// reported wrapped in common.ErrCacheUnavailable.
type Store interface {
	// Set writes value under key with the given time-to-live in one atomic step.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Replace overwrites an existing key and keeps its remaining time-to-live.
	// It returns ErrMiss and writes nothing when the key is absent.
	Replace(ctx context.Context, key, value string) error
	// IncrUntil atomically increments an integer counter, creating it at 1,
	// and makes it expire at expireAt.
	IncrUntil(ctx context.Context, key string, expireAt time.Time) (int64, error)
	// Delete removes keys; absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
