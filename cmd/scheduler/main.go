package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating"
	"lead_rating_engine/internal/scheduler"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/db"
	"lead_rating_engine/platform/kv"
	"lead_rating_engine/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Error("failed to run migrations", "error", err)
		panic("failed to run migrations: " + err.Error())
	}

	var client redis.UniversalClient
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		c, err := kv.NewClient(ctx, cfg)
		if err != nil {
			return err
		}
		client = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	eventBus := events.NewInMemoryBus(log)
	ratingModule := rating.NewModule(pool, client, eventBus, cfg, log)

	if report, err := ratingModule.Engine().RefreshRuleCache(ctx); err != nil {
		log.Warn("initial rule cache warmup failed", "error", err)
	} else {
		log.Info("rule cache warmed", "entries", report.Loaded)
	}

	retention := scheduler.NewHistoryRetention(ratingModule.History(), log, cfg.GetHistoryPurgeInterval(), cfg.GetHistoryRetentionDays())
	go retention.Run(ctx)

	handlers := scheduler.NewTaskHandlers(ratingModule.Engine(), ratingModule.History(), cfg.GetHistoryRetentionDays(), log)
	worker, err := scheduler.NewWorker(cfg, handlers, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
