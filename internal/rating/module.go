// Package rating provides the lead rating bounded context module.
// This file wires the rule store, scoring engine, cache, history log and
// orchestrator together.
package rating

import (
	"context"

	"lead_rating_engine/internal/adapters"
	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/internal/rating/rules"
	"lead_rating_engine/internal/rating/scoring"
	"lead_rating_engine/internal/rating/service"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the rating bounded context module.
type Module struct {
	rules   *rules.Service
	history *history.Service
	engine  *service.Service
	cache   *cache.Cache
}

// Stores groups the storage collaborators of the module. NewModule fills
// them from Postgres; tests pass in-memory versions.
type Stores struct {
	Rules     repository.RuleStore
	History   repository.HistoryStore
	Tx        repository.Transactor
	Leads     ports.LeadProvider
	Operators ports.OperatorDirectory
}

// NewModule creates the rating module backed by Postgres and Redis.
func NewModule(pool *pgxpool.Pool, client redis.UniversalClient, eventBus events.Bus, cfg *config.Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	return NewModuleWithStores(Stores{
		Rules:     repo,
		History:   repo,
		Tx:        repo,
		Leads:     adapters.NewLeadStore(pool),
		Operators: adapters.NewOperatorDirectory(pool),
	}, cache.NewRedisBackend(client, cfg.GetCacheOpTimeout()), eventBus, cfg, log)
}

// NewModuleWithStores creates the rating module on explicit stores.
func NewModuleWithStores(stores Stores, backend cache.Backend, eventBus events.Bus, cfg *config.Config, log *logger.Logger) *Module {
	resultCache := cache.New(backend, cache.NewRegistry(), cache.Options{
		KeyPrefix:     cfg.GetCacheKeyPrefix(),
		ResultTTL:     cfg.GetCacheResultTTL(),
		RuleConfigTTL: cfg.GetCacheRuleConfigTTL(),
		StatisticsTTL: cfg.GetCacheStatisticsTTL(),
	}, log)

	ruleSvc := rules.New(stores.Rules, stores.Tx, resultCache, eventBus, log)
	historySvc := history.New(stores.History, stores.Tx, stores.Operators, log)
	engine := service.New(service.Deps{
		Leads:    stores.Leads,
		Rules:    ruleSvc,
		History:  historySvc,
		Cache:    resultCache,
		Tx:       stores.Tx,
		Scorer:   scoring.New(nil),
		EventBus: eventBus,
		Log:      log,
	}, service.OptionsFromConfig(cfg))

	// Reload cached rule configuration whenever the rule set changes.
	eventBus.Subscribe(events.RatingRulesChangedName, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.RatingRulesChanged)
		if !ok {
			return nil
		}
		if _, err := engine.RefreshRuleCache(context.WithoutCancel(ctx)); err != nil {
			log.Warn("rule cache refresh failed", "action", e.Action, "error", err)
		}
		return nil
	}))

	return &Module{
		rules:   ruleSvc,
		history: historySvc,
		engine:  engine,
		cache:   resultCache,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "rating"
}

// Rules returns the rule store service.
func (m *Module) Rules() *rules.Service {
	return m.rules
}

// History returns the history service.
func (m *Module) History() *history.Service {
	return m.history
}

// Engine returns the rating orchestrator.
func (m *Module) Engine() *service.Service {
	return m.engine
}

// Cache returns the cache layer.
func (m *Module) Cache() *cache.Cache {
	return m.cache
}
