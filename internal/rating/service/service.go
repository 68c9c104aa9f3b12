// Package service is the rating orchestrator: it composes the rule store,
// the scoring engine, the cache and the history log into the operations
// callers use.
package service

import (
	"context"
	"encoding/json"
	"time"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/internal/rating/rules"
	"lead_rating_engine/internal/rating/scoring"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers    = 8
	defaultErrorLimit = 100
	detailHistorySize = 5
	statisticsWindow  = 30 * 24 * time.Hour
)

// RuleSource is the part of the rule store the orchestrator reads.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]domain.Rule, error)
	ListEnabledFresh(ctx context.Context) ([]domain.Rule, error)
	ValidateSet(ctx context.Context, set []domain.Rule) (rules.ValidationResult, error)
}

// HistoryLog is the part of the history store the orchestrator writes.
type HistoryLog interface {
	Record(ctx context.Context, in history.RecordInput) (domain.History, error)
	Rollback(ctx context.Context, in history.RollbackInput) (domain.History, error)
	ListByLead(ctx context.Context, leadID uuid.UUID, page repository.Page) (history.Page, error)
	Statistics(ctx context.Context, start, end time.Time) (history.Statistics, error)
}

// ResultCache is the part of the cache layer the orchestrator uses.
type ResultCache interface {
	GetResult(ctx context.Context, leadID uuid.UUID) (domain.Result, bool)
	BatchGetResults(ctx context.Context, leadIDs []uuid.UUID) map[uuid.UUID]domain.Result
	CacheResult(ctx context.Context, r domain.Result) error
	EvictResult(ctx context.Context, leadID uuid.UUID) error
	BatchEvictResults(ctx context.Context, leadIDs []uuid.UUID) (int64, error)
	ClearRuleConfigs(ctx context.Context) (int64, error)
	WarmupRuleConfigs(ctx context.Context, load cache.RulesLoader) (cache.WarmupReport, error)
	WarmupResults(ctx context.Context, leadIDs []uuid.UUID, load cache.ResultLoader, workers int) (cache.WarmupReport, error)
	GetRaw(ctx context.Context, ns cache.Namespace, key string) (json.RawMessage, bool)
	SetStatistic(ctx context.Context, key string, value any) error
}

// Options tunes batch processing.
type Options struct {
	// Workers bounds concurrent per-lead work in batch operations.
	Workers int
	// RatePerSecond paces batch work; 0 disables pacing.
	RatePerSecond float64
	// ErrorLimit bounds the per-item error list of batch results.
	ErrorLimit int
}

// OptionsFromConfig reads batch settings from cfg.
func OptionsFromConfig(cfg config.RatingConfig) Options {
	return Options{
		Workers:       cfg.GetBatchWorkers(),
		RatePerSecond: cfg.GetBatchRatePerSecond(),
		ErrorLimit:    cfg.GetBatchErrorLimit(),
	}
}

// Deps groups the collaborators of Service.
type Deps struct {
	Leads    ports.LeadProvider
	Rules    RuleSource
	History  HistoryLog
	Cache    ResultCache
	Tx       repository.Transactor
	Scorer   *scoring.Engine
	EventBus events.Bus
	Log      *logger.Logger
}

// Service orchestrates rating calculation and its side effects.
type Service struct {
	leads    ports.LeadProvider
	rules    RuleSource
	history  HistoryLog
	cache    ResultCache
	tx       repository.Transactor
	scorer   *scoring.Engine
	eventBus events.Bus
	log      *logger.Logger

	opts    Options
	limiter *rate.Limiter
	flight  singleflight.Group
	now     func() time.Time
}

// New creates the orchestrator. EventBus and Log may be nil.
func New(deps Deps, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ErrorLimit <= 0 {
		opts.ErrorLimit = defaultErrorLimit
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.New(nil)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Service{
		leads:    deps.Leads,
		rules:    deps.Rules,
		history:  deps.History,
		cache:    deps.Cache,
		tx:       deps.Tx,
		scorer:   deps.Scorer,
		eventBus: deps.EventBus,
		log:      deps.Log.WithComponent("rating-engine"),
		opts:     opts,
		limiter:  limiter,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for reporting windows.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

func (s *Service) publishChange(ctx context.Context, h domain.History) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(ctx, events.LeadRatingChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         h.LeadID,
		HistoryID:      h.ID,
		PreviousRating: string(h.PreviousRating),
		CurrentRating:  string(h.CurrentRating),
		CurrentScore:   h.CurrentScore,
		Reason:         string(h.Reason),
		OperatorID:     h.OperatorID,
		Manual:         h.ManualAdjustment,
	})
}
