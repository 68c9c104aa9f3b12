package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	c := New(NewRedisBackend(client, 200*time.Millisecond), NewRegistry(), Options{KeyPrefix: "test"}, logger.Discard())
	return c, mr
}

func sampleResult(id uuid.UUID) domain.Result {
	return domain.Result{
		LeadID:             id,
		Rating:             domain.RatingB,
		Score:              74.5,
		DimensionScores:    map[domain.RuleType]float64{domain.RuleTypeCompleteness: 80, domain.RuleTypeLocation: 65},
		CalculationDetails: "details",
		CalculatedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Version:            "v2.0.0",
	}
}

func TestResultRoundTripAndEvict(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	id := uuid.New()
	want := sampleResult(id)

	require.NoError(t, c.CacheResult(ctx, want))
	assert.True(t, mr.Exists("test:result:"+id.String()))

	got, ok := c.GetResult(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, c.IsResultCached(ctx, id))

	require.NoError(t, c.EvictResult(ctx, id))
	assert.False(t, c.IsResultCached(ctx, id))
	_, ok = c.GetResult(ctx, id)
	assert.False(t, ok)
}

func TestResultTTLDefaultsAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	id := uuid.New()

	require.NoError(t, c.CacheResult(ctx, sampleResult(id)))
	ttl, ok := c.ResultTTL(ctx, id)
	require.True(t, ok)
	assert.Equal(t, DefaultResultTTL, ttl)

	refreshed, err := c.RefreshResultTTL(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)

	mr.FastForward(2 * time.Minute)
	assert.False(t, c.IsResultCached(ctx, id))
	_, ok = c.ResultTTL(ctx, id)
	assert.False(t, ok)

	refreshed, err = c.RefreshResultTTL(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestBatchGetAndBatchEvict(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	a, b, missing := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, c.CacheResult(ctx, sampleResult(a)))
	require.NoError(t, c.CacheResult(ctx, sampleResult(b)))

	got := c.BatchGetResults(ctx, []uuid.UUID{a, b, missing})
	assert.Len(t, got, 2)
	assert.Contains(t, got, a)
	assert.NotContains(t, got, missing)

	stats := c.Statistics().Namespaces[NamespaceResult]
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	deleted, err := c.BatchEvictResults(ctx, []uuid.UUID{a, b, missing})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Empty(t, c.CachedLeadIDs(ctx))
}

func TestStatisticsAndHitRates(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	id := uuid.New()

	_, _ = c.GetResult(ctx, id)
	require.NoError(t, c.CacheResult(ctx, sampleResult(id)))
	_, _ = c.GetResult(ctx, id)
	_, _ = c.GetResult(ctx, id)
	_, _ = c.GetRules(ctx)

	stats := c.Statistics()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Loads)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)

	rates := c.HitRateStatistics()
	assert.InDelta(t, 50.0, rates.OverallHitRate, 1e-9)
	assert.InDelta(t, 200.0/3.0, rates.NamespaceHitRates[NamespaceResult], 1e-9)
	assert.Equal(t, 0.0, rates.NamespaceHitRates[NamespaceRuleConfig])

	c.ResetStatistics()
	assert.Zero(t, c.Statistics().Total)
}

func TestBackendDownDegradesReadsAndFailsWrites(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	id := uuid.New()
	mr.Close()

	_, ok := c.GetResult(ctx, id)
	assert.False(t, ok)
	assert.Empty(t, c.BatchGetResults(ctx, []uuid.UUID{id}))
	assert.False(t, c.IsResultCached(ctx, id))
	assert.Equal(t, int64(2), c.Statistics().Misses)

	err := c.CacheResult(ctx, sampleResult(id))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCache))

	err = c.EvictResult(ctx, id)
	assert.True(t, apperr.Is(err, apperr.KindCache))
}

func TestCorruptEntryIsDroppedAsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	id := uuid.New()
	require.NoError(t, mr.Set("test:result:"+id.String(), "{not json"))

	var evicted []EvictionReason
	c.AddListener(&ListenerFuncs{Eviction: func(_ Namespace, _ string, r EvictionReason) { evicted = append(evicted, r) }})

	_, ok := c.GetResult(ctx, id)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:result:"+id.String()))
	assert.Equal(t, []EvictionReason{EvictCorrupt}, evicted)
}

func TestListenersReceiveEventsAndPanicsAreContained(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	id := uuid.New()

	var hits, misses, loads, evictions atomic.Int32
	counting := &ListenerFuncs{
		Hit:      func(Namespace, string) { hits.Add(1) },
		Miss:     func(Namespace, string) { misses.Add(1) },
		Load:     func(Namespace, string) { loads.Add(1) },
		Eviction: func(Namespace, string, EvictionReason) { evictions.Add(1) },
	}
	panicky := &ListenerFuncs{Hit: func(Namespace, string) { panic("boom") }}
	c.AddListener(panicky)
	c.AddListener(counting)

	_, _ = c.GetResult(ctx, id)
	require.NoError(t, c.CacheResult(ctx, sampleResult(id)))
	_, ok := c.GetResult(ctx, id)
	require.True(t, ok)
	require.NoError(t, c.EvictResult(ctx, id))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), misses.Load())
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, int32(1), evictions.Load())

	c.RemoveListener(counting)
	_, _ = c.GetResult(ctx, id)
	assert.Equal(t, int32(1), misses.Load())
}

func TestClearAllAndSizeInfo(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	require.NoError(t, c.CacheResult(ctx, sampleResult(uuid.New())))
	require.NoError(t, c.CacheResult(ctx, sampleResult(uuid.New())))
	require.NoError(t, c.CacheRules(ctx, 0, domain.DefaultRules()))
	require.NoError(t, c.SetStatistic(ctx, "distribution", map[string]int{"A": 3}))

	info := c.SizeInfo(ctx)
	assert.Equal(t, 4, info.Total)
	assert.Equal(t, 2, info.Namespaces[NamespaceResult])

	deleted, err := c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.Zero(t, c.SizeInfo(ctx).Total)
}

func TestCleanupExpiredRemovesEntriesWithoutTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, c.CacheResult(ctx, sampleResult(uuid.New())))
	require.NoError(t, mr.Set("test:statistics:stale", `{"a":1}`))

	removed, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists("test:statistics:stale"))
	assert.Equal(t, 1, c.SizeInfo(ctx).Total)
}

func TestSnapshotExportImport(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestCache(t)
	id := uuid.New()
	want := sampleResult(id)
	require.NoError(t, src.CacheResult(ctx, want))
	require.NoError(t, src.CacheRules(ctx, 0, domain.DefaultRules()))

	snap, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	require.Len(t, snap.Entries[NamespaceResult], 1)
	assert.Equal(t, int64(DefaultResultTTL/time.Second), snap.Entries[NamespaceResult][0].TTLSeconds)

	snap.Entries[NamespaceStatistics] = []SnapshotEntry{{Key: "no-ttl", Value: []byte(`{"x":1}`)}}
	snap.Entries["bogus"] = []SnapshotEntry{{Key: "k", Value: []byte(`1`)}}

	dst, _ := newTestCache(t)
	report, err := dst.Import(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 1, report.Skipped)

	got, ok := dst.GetResult(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want, got)

	ttl, ok := dst.TTLRemaining(ctx, NamespaceStatistics, "no-ttl")
	require.True(t, ok)
	assert.Equal(t, DefaultStatisticsTTL, ttl)
}

func TestWarmupResultsSkipsCachedAndCollectsFailures(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	cached, fresh, broken := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, c.CacheResult(ctx, sampleResult(cached)))

	var calls atomic.Int32
	load := func(_ context.Context, id uuid.UUID) (domain.Result, error) {
		calls.Add(1)
		if id == broken {
			return domain.Result{}, apperr.NotFound("lead not found")
		}
		return sampleResult(id), nil
	}

	report, err := c.WarmupResults(ctx, []uuid.UUID{cached, fresh, broken}, load, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, c.IsResultCached(ctx, fresh))
}

func TestWarmupRuleConfigs(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	rules := domain.DefaultRules()
	for i := range rules {
		rules[i].ID = uuid.New()
	}

	report, err := c.WarmupRuleConfigs(ctx, func(context.Context) ([]domain.Rule, error) { return rules, nil })
	require.NoError(t, err)
	assert.Equal(t, len(rules)+1, report.Loaded)

	got, ok := c.GetRules(ctx)
	require.True(t, ok)
	assert.Len(t, got, len(rules))
	assert.True(t, got[0].Weight.Equal(rules[0].Weight))

	one, ok := c.GetRule(ctx, rules[3].ID)
	require.True(t, ok)
	assert.Equal(t, rules[3].Name, one.Name)
}

func TestRuleEntriesFollowGeneration(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	rules := domain.DefaultRules()

	gen, ok := c.RuleGeneration(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(0), gen)

	_, err := c.ClearRuleConfigs(ctx)
	require.NoError(t, err)

	// A write from a read that started before the clear lands under the old generation.
	require.NoError(t, c.CacheRules(ctx, gen, rules))
	_, ok = c.GetRules(ctx)
	assert.False(t, ok)

	next, ok := c.RuleGeneration(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1), next)
	require.NoError(t, c.CacheRules(ctx, next, rules[:2]))

	got, ok := c.GetRules(ctx)
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.True(t, mr.Exists("test:rule-config:enabled:1"))
	assert.True(t, mr.Exists("test:rule-generation"))
}

func TestRuleGenerationUnavailableWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.Close()

	_, ok := c.RuleGeneration(ctx)
	assert.False(t, ok)

	_, err := c.ClearRuleConfigs(ctx)
	assert.True(t, apperr.Is(err, apperr.KindCache))
}

func TestWarmupRuleConfigsDiscardedWhenRulesChangeDuringLoad(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, err := c.WarmupRuleConfigs(ctx, func(ctx context.Context) ([]domain.Rule, error) {
		_, err := c.ClearRuleConfigs(ctx)
		return domain.DefaultRules(), err
	})
	require.NoError(t, err)

	_, ok := c.GetRules(ctx)
	assert.False(t, ok)
}
