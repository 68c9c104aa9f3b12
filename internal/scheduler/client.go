package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"lead_rating_engine/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	batchTaskTimeout = 30 * time.Minute
	purgeUniqueFor   = time.Hour
	maxTaskRetry     = 3
)

type Client struct {
	client *asynq.Client
	queue  string
}

// Enqueuer schedules rating background work.
type Enqueuer interface {
	EnqueueBatchRecalculate(ctx context.Context, payload BatchRecalculatePayload) (string, error)
	EnqueueHistoryPurge(ctx context.Context, payload HistoryPurgePayload) (string, error)
	EnqueueCacheWarmup(ctx context.Context, payload CacheWarmupPayload) (string, error)
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueBatchRecalculate(ctx context.Context, payload BatchRecalculatePayload) (string, error) {
	task, err := NewBatchRecalculateTask(payload)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, asynq.Timeout(batchTaskTimeout), asynq.MaxRetry(maxTaskRetry))
}

// EnqueueHistoryPurge schedules a retention purge. Duplicate purges within an
// hour are rejected by the queue.
func (c *Client) EnqueueHistoryPurge(ctx context.Context, payload HistoryPurgePayload) (string, error) {
	task, err := NewHistoryPurgeTask(payload)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, asynq.Unique(purgeUniqueFor), asynq.MaxRetry(maxTaskRetry))
}

func (c *Client) EnqueueCacheWarmup(ctx context.Context, payload CacheWarmupPayload) (string, error) {
	task, err := NewCacheWarmupTask(payload)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, asynq.MaxRetry(1))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("scheduler client not configured")
	}
	info, err := c.client.EnqueueContext(ctx, task, append(opts, asynq.Queue(c.queue))...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

// Compile-time check.
var _ Enqueuer = (*Client)(nil)
