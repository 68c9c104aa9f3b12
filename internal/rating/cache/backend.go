// Package cache is the rating engine's key/value cache for computed results,
// rule configurations and statistics.
package cache

import (
	"context"
	"time"
)

// TTL sentinels returned by Backend.TTL.
const (
	NoExpiry   time.Duration = -1
	KeyMissing time.Duration = -2
)

// Backend is the key/value store contract. Values are opaque bytes.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns found=false without error for a missing key.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// MultiGet returns one entry per key, nil for missing keys.
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns NoExpiry or KeyMissing for keys without a deadline.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	// Incr atomically increments the integer at key, starting from 0.
	Incr(ctx context.Context, key string) (int64, error)
}
