package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOpTimeout  = 500 * time.Millisecond
	scanCount         = 500
	scanTimeoutFactor = 20
)

// RedisBackend implements Backend on go-redis. Every call is bounded by the
// configured timeout so an unreachable server fails fast.
type RedisBackend struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedisBackend(client redis.UniversalClient, timeout time.Duration) *RedisBackend {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &RedisBackend{client: client, timeout: timeout}
}

func (b *RedisBackend) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBackend) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := b.bounded(ctx)
	defer cancel()

	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	return b.client.Del(ctx, keys...).Result()
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	d, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return NoExpiry, nil
	case -2:
		return KeyMissing, nil
	}
	return d, nil
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	return b.client.Expire(ctx, key, ttl).Result()
}

func (b *RedisBackend) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := b.bounded(ctx)
	defer cancel()
	return b.client.Incr(ctx, key).Result()
}

// KeysByPrefix walks the keyspace with SCAN rather than KEYS. The whole
// walk gets a longer deadline than single-key calls.
func (b *RedisBackend) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeoutFactor*b.timeout)
	defer cancel()

	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var _ Backend = (*RedisBackend)(nil)
