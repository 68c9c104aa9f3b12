package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/service"
	"lead_rating_engine/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeEngine struct {
	mu        sync.Mutex
	recalc    []service.RecalculateInput
	warmed    [][]uuid.UUID
	cancelled bool
}

func (f *fakeEngine) BatchRecalculateRating(_ context.Context, in service.RecalculateInput) (service.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalc = append(f.recalc, in)
	return service.BatchResult{Total: 1, Success: 1, Cancelled: f.cancelled}, nil
}

func (f *fakeEngine) WarmupCache(_ context.Context, ids []uuid.UUID) (cache.WarmupReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warmed = append(f.warmed, ids)
	return cache.WarmupReport{Requested: len(ids), Loaded: len(ids)}, nil
}

type fakePurger struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (f *fakePurger) DeleteExpired(_ context.Context, days int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, days)
	return 3, f.err
}

func (f *fakePurger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestHandleBatchRecalculateParsesPayload(t *testing.T) {
	engine := &fakeEngine{}
	h := NewTaskHandlers(engine, &fakePurger{}, 365, logger.Discard())
	op := uuid.New()

	task, err := NewBatchRecalculateTask(BatchRecalculatePayload{
		Condition:  ports.LeadCondition{Ratings: []domain.Rating{domain.RatingD}},
		Reason:     "periodic_review",
		OperatorID: op.String(),
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := h.HandleBatchRecalculate(context.Background(), task); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(engine.recalc) != 1 {
		t.Fatalf("expected one recalculation, got %d", len(engine.recalc))
	}
	got := engine.recalc[0]
	if got.Reason != domain.ReasonPeriodicReview {
		t.Fatalf("expected PERIODIC_REVIEW, got %s", got.Reason)
	}
	if got.OperatorID == nil || *got.OperatorID != op {
		t.Fatalf("expected operator %s, got %v", op, got.OperatorID)
	}
	if len(got.Condition.Ratings) != 1 || got.Condition.Ratings[0] != domain.RatingD {
		t.Fatalf("unexpected condition: %+v", got.Condition)
	}
}

func TestHandleBatchRecalculateSkipsRetryOnBadReason(t *testing.T) {
	h := NewTaskHandlers(&fakeEngine{}, &fakePurger{}, 365, nil)
	task, _ := NewBatchRecalculateTask(BatchRecalculatePayload{Reason: "because"})

	err := h.HandleBatchRecalculate(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleBatchRecalculateRetriesCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewTaskHandlers(&fakeEngine{cancelled: true}, &fakePurger{}, 365, nil)
	task, _ := NewBatchRecalculateTask(BatchRecalculatePayload{})

	if err := h.HandleBatchRecalculate(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHandleHistoryPurgeUsesOverride(t *testing.T) {
	purger := &fakePurger{}
	h := NewTaskHandlers(&fakeEngine{}, purger, 365, nil)

	task, _ := NewHistoryPurgeTask(HistoryPurgePayload{})
	if err := h.HandleHistoryPurge(context.Background(), task); err != nil {
		t.Fatalf("purge: %v", err)
	}
	task, _ = NewHistoryPurgeTask(HistoryPurgePayload{RetentionDays: 30})
	if err := h.HandleHistoryPurge(context.Background(), task); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if len(purger.calls) != 2 || purger.calls[0] != 365 || purger.calls[1] != 30 {
		t.Fatalf("unexpected retention days: %v", purger.calls)
	}
}

func TestHandleCacheWarmupRejectsMalformedIDs(t *testing.T) {
	engine := &fakeEngine{}
	h := NewTaskHandlers(engine, &fakePurger{}, 365, nil)

	task, _ := NewCacheWarmupTask(CacheWarmupPayload{LeadIDs: []string{uuid.NewString(), "nope"}})
	if err := h.HandleCacheWarmup(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(engine.warmed) != 0 {
		t.Fatal("expected no warmup for malformed payload")
	}

	task, _ = NewCacheWarmupTask(CacheWarmupPayload{LeadIDs: []string{uuid.NewString(), uuid.NewString()}})
	if err := h.HandleCacheWarmup(context.Background(), task); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if len(engine.warmed) != 1 || len(engine.warmed[0]) != 2 {
		t.Fatalf("unexpected warmups: %v", engine.warmed)
	}
}

func TestHandlersRejectInvalidJSON(t *testing.T) {
	h := NewTaskHandlers(&fakeEngine{}, &fakePurger{}, 365, nil)
	task := asynq.NewTask(TaskHistoryPurge, []byte("{"))

	if err := h.HandleHistoryPurge(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHistoryRetentionPurgesOnStartAndTick(t *testing.T) {
	purger := &fakePurger{}
	r := NewHistoryRetention(purger, nil, 10*time.Millisecond, 90)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if purger.count() < 2 {
		t.Fatalf("expected at least two purges, got %d", purger.count())
	}
	purger.mu.Lock()
	defer purger.mu.Unlock()
	if purger.calls[0] != 90 {
		t.Fatalf("expected 90 retention days, got %d", purger.calls[0])
	}
}

func TestHistoryRetentionKeepsRunningAfterFailure(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	r := NewHistoryRetention(purger, logger.Discard(), 0, 0)
	if r.interval != defaultHistoryPurgeInterval || r.retentionDays != defaultHistoryRetentionDays {
		t.Fatalf("expected defaults, got %s / %d", r.interval, r.retentionDays)
	}

	r.purge(context.Background())
	if purger.count() != 1 {
		t.Fatalf("expected one purge attempt, got %d", purger.count())
	}
}
