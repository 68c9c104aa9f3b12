package cache

import (
	"context"
	"strconv"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

// EnabledRulesKey prefixes the rule-config entries holding the enabled rule
// set, one per rule-set generation.
const EnabledRulesKey = "enabled"

const ruleGenerationKey = "rule-generation"

// CacheResult stores r under its lead id with the default result TTL.
func (c *Cache) CacheResult(ctx context.Context, r domain.Result) error {
	return c.Set(ctx, NamespaceResult, r.LeadID.String(), r, 0)
}

// GetResult returns the cached result for leadID.
func (c *Cache) GetResult(ctx context.Context, leadID uuid.UUID) (domain.Result, bool) {
	return Get[domain.Result](ctx, c, NamespaceResult, leadID.String())
}

// BatchGetResults returns the cached results among leadIDs.
func (c *Cache) BatchGetResults(ctx context.Context, leadIDs []uuid.UUID) map[uuid.UUID]domain.Result {
	keys := make([]string, len(leadIDs))
	for i, id := range leadIDs {
		keys[i] = id.String()
	}
	found := BatchGet[domain.Result](ctx, c, NamespaceResult, keys)
	out := make(map[uuid.UUID]domain.Result, len(found))
	for k, r := range found {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		out[id] = r
	}
	return out
}

func (c *Cache) EvictResult(ctx context.Context, leadID uuid.UUID) error {
	return c.Evict(ctx, NamespaceResult, leadID.String())
}

func (c *Cache) BatchEvictResults(ctx context.Context, leadIDs []uuid.UUID) (int64, error) {
	keys := make([]string, len(leadIDs))
	for i, id := range leadIDs {
		keys[i] = id.String()
	}
	return c.BatchEvict(ctx, NamespaceResult, keys)
}

func (c *Cache) IsResultCached(ctx context.Context, leadID uuid.UUID) bool {
	return c.Exists(ctx, NamespaceResult, leadID.String())
}

func (c *Cache) ResultTTL(ctx context.Context, leadID uuid.UUID) (time.Duration, bool) {
	return c.TTLRemaining(ctx, NamespaceResult, leadID.String())
}

func (c *Cache) RefreshResultTTL(ctx context.Context, leadID uuid.UUID, ttl time.Duration) (bool, error) {
	return c.RefreshTTL(ctx, NamespaceResult, leadID.String(), ttl)
}

// CachedLeadIDs lists the lead ids that currently have a cached result.
func (c *Cache) CachedLeadIDs(ctx context.Context) []uuid.UUID {
	keys := c.Keys(ctx, NamespaceResult)
	out := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		if id, err := uuid.Parse(k); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (c *Cache) ClearResults(ctx context.Context) (int64, error) {
	return c.Clear(ctx, NamespaceResult)
}

func enabledRulesKey(generation int64) string {
	return EnabledRulesKey + ":" + strconv.FormatInt(generation, 10)
}

func ruleKey(generation int64, id uuid.UUID) string {
	return "rule:" + strconv.FormatInt(generation, 10) + ":" + id.String()
}

// RuleGeneration returns the current rule-set generation. Rule entries are
// keyed by generation, and ClearRuleConfigs advances it, so an entry written
// from a read that raced with a rule change is never served. ok is false
// when the generation cannot be read; callers then bypass the rule cache.
func (c *Cache) RuleGeneration(ctx context.Context) (int64, bool) {
	key := c.prefix + ":" + ruleGenerationKey
	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.CacheError("get", key, err)
		return 0, false
	}
	if !found {
		return 0, true
	}
	gen, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		c.log.CacheError("decode", key, err)
		return 0, false
	}
	return gen, true
}

// CacheRules stores the enabled rule set read under generation.
func (c *Cache) CacheRules(ctx context.Context, generation int64, rules []domain.Rule) error {
	return c.Set(ctx, NamespaceRuleConfig, enabledRulesKey(generation), rules, 0)
}

// RulesAt returns the enabled rule set cached for generation.
func (c *Cache) RulesAt(ctx context.Context, generation int64) ([]domain.Rule, bool) {
	return Get[[]domain.Rule](ctx, c, NamespaceRuleConfig, enabledRulesKey(generation))
}

// GetRules returns the enabled rule set cached for the current generation.
func (c *Cache) GetRules(ctx context.Context) ([]domain.Rule, bool) {
	gen, ok := c.RuleGeneration(ctx)
	if !ok {
		return nil, false
	}
	return c.RulesAt(ctx, gen)
}

// CacheRule stores a single rule by id under generation.
func (c *Cache) CacheRule(ctx context.Context, generation int64, rule domain.Rule) error {
	return c.Set(ctx, NamespaceRuleConfig, ruleKey(generation, rule.ID), rule, 0)
}

func (c *Cache) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, bool) {
	gen, ok := c.RuleGeneration(ctx)
	if !ok {
		return domain.Rule{}, false
	}
	return Get[domain.Rule](ctx, c, NamespaceRuleConfig, ruleKey(gen, id))
}

// ClearRuleConfigs advances the rule-set generation and drops every
// rule-config entry. A failed advance aborts before anything is dropped.
func (c *Cache) ClearRuleConfigs(ctx context.Context) (int64, error) {
	key := c.prefix + ":" + ruleGenerationKey
	if _, err := c.backend.Incr(ctx, key); err != nil {
		c.log.CacheError("incr", key, err)
		return 0, apperr.Cache("rule generation advance failed", err).WithOp("cache.ClearRuleConfigs")
	}
	return c.Clear(ctx, NamespaceRuleConfig)
}

// SetStatistic stores a reporting value with the statistics TTL.
func (c *Cache) SetStatistic(ctx context.Context, key string, value any) error {
	return c.Set(ctx, NamespaceStatistics, key, value, 0)
}

func (c *Cache) ClearStatistics(ctx context.Context) (int64, error) {
	return c.Clear(ctx, NamespaceStatistics)
}
