package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BatchResult summarizes a batch re-rating. Errors is capped.
type BatchResult struct {
	Total       int           `json:"total"`
	Success     int           `json:"success"`
	Failure     int           `json:"failure"`
	Errors      []string      `json:"errors,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	Elapsed     time.Duration `json:"elapsed"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	ProcessedAt time.Time     `json:"processedAt"`
}

// batchCollector gathers per-item outcomes from concurrent workers.
type batchCollector struct {
	mu     sync.Mutex
	limit  int
	result BatchResult
}

func (c *batchCollector) ok() {
	c.mu.Lock()
	c.result.Success++
	c.mu.Unlock()
}

func (c *batchCollector) fail(id uuid.UUID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Failure++
	if len(c.result.Errors) < c.limit {
		c.result.Errors = append(c.result.Errors, fmt.Sprintf("%s: %v", id, err))
	}
}

// BatchCalculateRating rates each lead. Cached results are read in one
// multi-get; the rest are computed on a bounded worker pool. Leads that fail
// (unknown ids included) are logged and left out of the returned map.
func (s *Service) BatchCalculateRating(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]domain.Result, error) {
	ids := dedupe(leadIDs)
	out := make(map[uuid.UUID]domain.Result, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	for id, r := range s.cache.BatchGetResults(ctx, ids) {
		out[id] = r
	}
	missing := make([]uuid.UUID, 0, len(ids)-len(out))
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	if _, err := s.enabledRules(ctx, "rating.BatchCalculateRating"); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	failures := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, id := range missing {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			result, err := s.CalculateRatingByID(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				s.log.WithContext(ctx).Warn("batch rating failed",
					"lead_id", id.String(), "error", err)
				return nil
			}
			out[id] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failures > 0 {
		s.log.WithContext(ctx).Warn("batch rating completed with failures",
			"requested", len(ids), "failed", failures)
	}
	return out, nil
}

// RecalculateInput selects the leads to re-rate.
type RecalculateInput struct {
	Condition  ports.LeadCondition
	Reason     domain.ChangeReason
	OperatorID *uuid.UUID
}

// BatchRecalculateRating re-rates every lead matching the condition. Cached
// results are dropped first; each lead whose values change is written back
// with a history row carrying the reason. Per-lead failures are counted, not
// returned. Cancelling ctx stops the run early with the partial tally.
func (s *Service) BatchRecalculateRating(ctx context.Context, in RecalculateInput) (BatchResult, error) {
	const op = "rating.BatchRecalculateRating"

	reason := in.Reason
	if reason == "" {
		reason = domain.ReasonBatchRerating
	}
	if !reason.Valid() {
		return BatchResult{}, apperr.Validationf("invalid change reason %q", reason).WithOp(op)
	}

	started := s.now().UTC()
	ids, err := s.leads.GetLeadIDsByCondition(ctx, in.Condition)
	if err != nil {
		return BatchResult{}, err
	}
	ids = dedupe(ids)

	collector := &batchCollector{limit: s.opts.ErrorLimit}
	collector.result.Total = len(ids)
	collector.result.StartedAt = started

	if len(ids) > 0 {
		enabled, err := s.enabledRules(ctx, op)
		if err != nil {
			return BatchResult{}, err
		}
		if _, err := s.cache.BatchEvictResults(ctx, ids); err != nil {
			return BatchResult{}, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)
		for _, id := range ids {
			g.Go(func() error {
				if err := s.limiter.Wait(gctx); err != nil {
					return err
				}
				if err := s.recalculateOne(gctx, id, enabled, reason, in.OperatorID); err != nil {
					collector.fail(id, err)
					return nil
				}
				collector.ok()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			collector.result.Cancelled = true
		}
	}

	result := collector.result
	result.ProcessedAt = s.now().UTC()
	result.Elapsed = result.ProcessedAt.Sub(started)
	s.log.WithContext(ctx).BatchCompleted("batch_recalculate", result.Total, result.Success, result.Failure, result.Elapsed)
	return result, nil
}

func (s *Service) recalculateOne(ctx context.Context, id uuid.UUID, enabled []domain.Rule, reason domain.ChangeReason, operatorID *uuid.UUID) error {
	lead, err := s.loadLead(ctx, "rating.recalculate", id)
	if err != nil {
		return err
	}
	_, err = s.scoreAndPersist(ctx, lead, enabled, reason, operatorID, false)
	return err
}

// WarmupCache precomputes results for leads that are not cached yet.
func (s *Service) WarmupCache(ctx context.Context, leadIDs []uuid.UUID) (cache.WarmupReport, error) {
	return s.cache.WarmupResults(ctx, dedupe(leadIDs), func(ctx context.Context, id uuid.UUID) (domain.Result, error) {
		return s.CalculateRatingByID(ctx, id)
	}, s.opts.Workers)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
