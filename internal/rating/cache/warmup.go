package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWarmupWorkers = 4
	maxWarmupErrors      = 100
)

// ResultLoader computes the result for one lead.
type ResultLoader func(ctx context.Context, leadID uuid.UUID) (domain.Result, error)

// RulesLoader returns the enabled rule set.
type RulesLoader func(ctx context.Context) ([]domain.Rule, error)

// WarmupReport summarizes a warmup run.
type WarmupReport struct {
	Requested int           `json:"requested"`
	Loaded    int           `json:"loaded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// WarmupResults loads and caches results for leadIDs that are not cached
// yet. Per-lead failures are collected; the run only returns an error if ctx
// is cancelled.
func (c *Cache) WarmupResults(ctx context.Context, leadIDs []uuid.UUID, load ResultLoader, workers int) (WarmupReport, error) {
	start := c.now()
	report := WarmupReport{Requested: len(leadIDs)}
	if len(leadIDs) == 0 {
		return report, nil
	}
	if workers <= 0 {
		workers = defaultWarmupWorkers
	}

	cached := c.BatchGetResults(ctx, leadIDs)

	var mu sync.Mutex
	fail := func(id uuid.UUID, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed++
		if len(report.Errors) < maxWarmupErrors {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range leadIDs {
		if _, ok := cached[id]; ok {
			report.Skipped++
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := load(gctx, id)
			if err != nil {
				fail(id, err)
				return nil
			}
			if err := c.CacheResult(gctx, r); err != nil {
				fail(id, err)
				return nil
			}
			mu.Lock()
			report.Loaded++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	report.Elapsed = c.now().Sub(start)
	return report, err
}

// WarmupRuleConfigs caches the enabled rule set and each rule by id under
// the generation current before load runs.
func (c *Cache) WarmupRuleConfigs(ctx context.Context, load RulesLoader) (WarmupReport, error) {
	start := c.now()
	gen, ok := c.RuleGeneration(ctx)
	if !ok {
		return WarmupReport{}, apperr.Cache("rule generation unavailable", nil).WithOp("cache.WarmupRuleConfigs")
	}
	rules, err := load(ctx)
	if err != nil {
		return WarmupReport{}, err
	}
	report := WarmupReport{Requested: len(rules) + 1}
	if err := c.CacheRules(ctx, gen, rules); err != nil {
		return report, err
	}
	report.Loaded++
	for _, r := range rules {
		if err := c.CacheRule(ctx, gen, r); err != nil {
			return report, err
		}
		report.Loaded++
	}
	report.Elapsed = c.now().Sub(start)
	return report, nil
}
