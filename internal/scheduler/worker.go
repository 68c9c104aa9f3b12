package scheduler

import (
	"context"
	"fmt"
	"strings"

	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/service"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// RatingEngine is the orchestrator as seen by background tasks.
type RatingEngine interface {
	BatchRecalculateRating(ctx context.Context, in service.RecalculateInput) (service.BatchResult, error)
	WarmupCache(ctx context.Context, leadIDs []uuid.UUID) (cache.WarmupReport, error)
}

// HistoryPurger deletes history rows past retention.
type HistoryPurger interface {
	DeleteExpired(ctx context.Context, retentionDays int) (int, error)
}

// TaskHandlers processes rating tasks. It is separate from Worker so the
// handlers run without a queue.
type TaskHandlers struct {
	engine        RatingEngine
	history       HistoryPurger
	retentionDays int
	log           *logger.Logger
}

func NewTaskHandlers(engine RatingEngine, history HistoryPurger, retentionDays int, log *logger.Logger) *TaskHandlers {
	if log == nil {
		log = logger.Discard()
	}
	return &TaskHandlers{engine: engine, history: history, retentionDays: retentionDays, log: log}
}

// Register mounts the handlers on mux.
func (h *TaskHandlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskBatchRecalculate, h.HandleBatchRecalculate)
	mux.HandleFunc(TaskHistoryPurge, h.HandleHistoryPurge)
	mux.HandleFunc(TaskCacheWarmup, h.HandleCacheWarmup)
}

func (h *TaskHandlers) HandleBatchRecalculate(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBatchRecalculatePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	in := service.RecalculateInput{Condition: payload.Condition}
	if payload.Reason != "" {
		reason, ok := domain.ParseChangeReason(payload.Reason)
		if !ok {
			return fmt.Errorf("%w: invalid change reason %q", asynq.SkipRetry, payload.Reason)
		}
		in.Reason = reason
	}
	if strings.TrimSpace(payload.OperatorID) != "" {
		op, err := uuid.Parse(payload.OperatorID)
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		in.OperatorID = &op
	}

	result, err := h.engine.BatchRecalculateRating(ctx, in)
	if err != nil {
		return err
	}
	if result.Cancelled {
		return ctx.Err()
	}
	return nil
}

func (h *TaskHandlers) HandleHistoryPurge(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseHistoryPurgePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	days := h.retentionDays
	if payload.RetentionDays > 0 {
		days = payload.RetentionDays
	}
	deleted, err := h.history.DeleteExpired(ctx, days)
	if err != nil {
		return err
	}
	h.log.Info("history purge task finished", "deleted", deleted, "retention_days", days)
	return nil
}

func (h *TaskHandlers) HandleCacheWarmup(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCacheWarmupPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	ids := make([]uuid.UUID, 0, len(payload.LeadIDs))
	for _, raw := range payload.LeadIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: lead id %q: %v", asynq.SkipRetry, raw, err)
		}
		ids = append(ids, id)
	}
	report, err := h.engine.WarmupCache(ctx, ids)
	if err != nil {
		return err
	}
	h.log.Info("cache warmup task finished", "loaded", report.Loaded, "skipped", report.Skipped, "failed", report.Failed)
	return nil
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, handlers *TaskHandlers, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	return &Worker{
		server: server,
		mux:    mux,
		log:    log,
	}, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
