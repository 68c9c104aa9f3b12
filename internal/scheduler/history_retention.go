package scheduler

import (
	"context"
	"time"

	"lead_rating_engine/platform/logger"
)

const (
	defaultHistoryPurgeInterval = 24 * time.Hour
	defaultHistoryRetentionDays = 365
)

// HistoryRetention periodically removes rating history past retention.
type HistoryRetention struct {
	history       HistoryPurger
	log           *logger.Logger
	interval      time.Duration
	retentionDays int
}

func NewHistoryRetention(history HistoryPurger, log *logger.Logger, interval time.Duration, retentionDays int) *HistoryRetention {
	if interval <= 0 {
		interval = defaultHistoryPurgeInterval
	}
	if retentionDays < 1 {
		retentionDays = defaultHistoryRetentionDays
	}
	if log == nil {
		log = logger.Discard()
	}

	return &HistoryRetention{
		history:       history,
		log:           log,
		interval:      interval,
		retentionDays: retentionDays,
	}
}

func (c *HistoryRetention) Run(ctx context.Context) {
	if c == nil || c.history == nil {
		return
	}

	c.purge(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.purge(ctx)
		}
	}
}

func (c *HistoryRetention) purge(ctx context.Context) {
	deleted, err := c.history.DeleteExpired(ctx, c.retentionDays)
	if err != nil {
		c.log.Warn("rating history purge failed", "error", err)
		return
	}

	if deleted > 0 {
		c.log.Info("rating history purge deleted expired rows", "deleted", deleted)
	}
}
