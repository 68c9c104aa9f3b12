// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides settings for the cache backend connection.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// CacheConfig provides key prefix, default TTLs and backend timeouts.
type CacheConfig interface {
	GetCacheKeyPrefix() string
	GetCacheResultTTL() time.Duration
	GetCacheRuleConfigTTL() time.Duration
	GetCacheStatisticsTTL() time.Duration
	GetCacheOpTimeout() time.Duration
}

// RatingConfig provides orchestrator batch settings.
type RatingConfig interface {
	GetBatchWorkers() int
	GetBatchRatePerSecond() float64
	GetBatchErrorLimit() int
}

// HistoryConfig provides history retention settings.
type HistoryConfig interface {
	GetHistoryRetentionDays() int
	GetHistoryPurgeInterval() time.Duration
}

// =============================================================================
// Config Struct
// =============================================================================

type Config struct {
	Env         string
	DatabaseURL string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	CacheKeyPrefix     string
	CacheResultTTL     time.Duration
	CacheRuleConfigTTL time.Duration
	CacheStatisticsTTL time.Duration
	CacheOpTimeout     time.Duration

	BatchWorkers       int
	BatchRatePerSecond float64
	BatchErrorLimit    int

	HistoryRetentionDays int
	HistoryPurgeInterval time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig / SchedulerConfig
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// CacheConfig
func (c *Config) GetCacheKeyPrefix() string            { return c.CacheKeyPrefix }
func (c *Config) GetCacheResultTTL() time.Duration     { return c.CacheResultTTL }
func (c *Config) GetCacheRuleConfigTTL() time.Duration { return c.CacheRuleConfigTTL }
func (c *Config) GetCacheStatisticsTTL() time.Duration { return c.CacheStatisticsTTL }
func (c *Config) GetCacheOpTimeout() time.Duration     { return c.CacheOpTimeout }

// RatingConfig
func (c *Config) GetBatchWorkers() int           { return c.BatchWorkers }
func (c *Config) GetBatchRatePerSecond() float64 { return c.BatchRatePerSecond }
func (c *Config) GetBatchErrorLimit() int        { return c.BatchErrorLimit }

// HistoryConfig
func (c *Config) GetHistoryRetentionDays() int           { return c.HistoryRetentionDays }
func (c *Config) GetHistoryPurgeInterval() time.Duration { return c.HistoryPurgeInterval }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "rating"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CacheKeyPrefix:       getEnv("CACHE_KEY_PREFIX", "rating"),
		CacheResultTTL:       mustDuration(getEnv("CACHE_RESULT_TTL", "24h")),
		CacheRuleConfigTTL:   mustDuration(getEnv("CACHE_RULE_CONFIG_TTL", "72h")),
		CacheStatisticsTTL:   mustDuration(getEnv("CACHE_STATISTICS_TTL", "6h")),
		CacheOpTimeout:       mustDuration(getEnv("CACHE_OP_TIMEOUT", "500ms")),
		BatchWorkers:         mustInt(getEnv("RATING_BATCH_WORKERS", "8")),
		BatchRatePerSecond:   mustFloat(getEnv("RATING_BATCH_RATE_PER_SEC", "0")),
		BatchErrorLimit:      mustInt(getEnv("RATING_BATCH_ERROR_LIMIT", "100")),
		HistoryRetentionDays: mustInt(getEnv("HISTORY_RETENTION_DAYS", "365")),
		HistoryPurgeInterval: mustDuration(getEnv("HISTORY_PURGE_INTERVAL", "24h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CacheResultTTL <= 0 || cfg.CacheRuleConfigTTL <= 0 || cfg.CacheStatisticsTTL <= 0 {
		return nil, fmt.Errorf("cache TTLs must be positive durations")
	}
	if cfg.HistoryRetentionDays < 1 {
		return nil, fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}
