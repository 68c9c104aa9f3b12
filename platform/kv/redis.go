// Package kv provides the Redis connection used as the cache backend.
// This is part of the platform layer and contains no business logic.
package kv

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"lead_rating_engine/platform/config"

	"github.com/redis/go-redis/v9"
)

// NewClient parses the configured URL and returns a connected client.
func NewClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	opt, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// Options builds client options from config, honouring REDIS_TLS_INSECURE.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if cfg.GetRedisTLSInsecure() {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if cfg.GetRedisTLSInsecure() {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return opt, nil
}
