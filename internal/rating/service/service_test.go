package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/internal/rating/rules"
	"lead_rating_engine/internal/rating/scoring"
	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fakeLeads struct {
	mu           sync.Mutex
	leads        map[uuid.UUID]domain.Lead
	ghosts       []uuid.UUID
	distribution map[domain.Rating]int64
	updates      int
}

func newFakeLeads(leads ...domain.Lead) *fakeLeads {
	f := &fakeLeads{leads: make(map[uuid.UUID]domain.Lead)}
	for _, l := range leads {
		f.leads[l.ID] = l
	}
	return f
}

func (f *fakeLeads) GetLeadByID(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	return l, nil
}

func (f *fakeLeads) UpdateLeadRating(ctx context.Context, id uuid.UUID, rating domain.Rating, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return ports.ErrLeadNotFound
	}
	l.Rating = rating
	l.RatingScore = &score
	f.leads[id] = l
	f.updates++
	return nil
}

func (f *fakeLeads) GetLeadIDsByCondition(_ context.Context, cond ports.LeadCondition) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(cond.LeadIDs) > 0 {
		return cond.LeadIDs, nil
	}
	ids := make([]uuid.UUID, 0, len(f.leads)+len(f.ghosts))
	for id := range f.leads {
		ids = append(ids, id)
	}
	return append(ids, f.ghosts...), nil
}

func (f *fakeLeads) GetRatingDistribution(context.Context) (map[domain.Rating]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.Rating]int64, len(f.distribution))
	for k, v := range f.distribution {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLeads) GetRatingTrend(_ context.Context, start, end time.Time, _ ports.Granularity) ([]ports.TrendPoint, error) {
	var points []ports.TrendPoint
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		points = append(points, ports.TrendPoint{Period: d, Counts: map[domain.Rating]int64{}})
	}
	return points, nil
}

func (f *fakeLeads) stored(id uuid.UUID) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leads[id]
}

func fullLead() domain.Lead {
	return domain.Lead{
		ID:                uuid.New(),
		CompanyName:       "Acme Robotics",
		CompanyType:       "Limited Liability Company",
		ContactPerson:     "Jordan Lee",
		ContactPhone:      "+86 138 0000 0000",
		ContactEmail:      "jordan@acme.example",
		Description:       "Looking for a site for an AI research campus",
		IndustryDirection: "Artificial Intelligence",
		IntendedRegion:    "Shanghai",
		RegisteredCapital: decimal.NewFromInt(15_000_000),
		InvestmentAmount:  decimal.NewFromInt(60_000_000),
		PublishedAt:       fixedNow.Add(-2 * 24 * time.Hour),
	}
}

type fixture struct {
	svc     *Service
	leads   *fakeLeads
	store   *repository.MemoryStore
	cache   *cache.Cache
	rules   *rules.Service
	history *history.Service
	bus     *events.InMemoryBus
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T, seedRules bool, leads ...domain.Lead) *fixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.New(cache.NewRedisBackend(client, 200*time.Millisecond), cache.NewRegistry(), cache.Options{KeyPrefix: "test"}, logger.Discard())

	clock := &stepClock{now: fixedNow}
	store := repository.NewMemoryStore(clock.Now)
	bus := events.NewInMemoryBus(logger.Discard())
	ruleSvc := rules.New(store, store, c, bus, logger.Discard())
	if seedRules {
		_, err := ruleSvc.ResetToDefaults(ctx)
		require.NoError(t, err)
	}
	histSvc := history.New(store, store, nil, logger.Discard()).WithClock(clock.Now)
	fl := newFakeLeads(leads...)

	svc := New(Deps{
		Leads:    fl,
		Rules:    ruleSvc,
		History:  histSvc,
		Cache:    c,
		Tx:       store,
		Scorer:   scoring.New(fixedClock),
		EventBus: bus,
		Log:      logger.Discard(),
	}, Options{Workers: 4}).WithClock(fixedClock)

	return &fixture{svc: svc, leads: fl, store: store, cache: c, rules: ruleSvc, history: histSvc, bus: bus, redis: mr}
}

func (f *fixture) historyFor(t *testing.T, leadID uuid.UUID) []domain.History {
	t.Helper()
	page, err := f.history.ListByLead(context.Background(), leadID, repository.Page{Page: 1, PageSize: 50})
	require.NoError(t, err)
	return page.Items
}

func TestCalculateRatingCachesAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	var published atomic.Int32
	f.bus.Subscribe(events.LeadRatingChangedName, events.HandlerFunc(func(context.Context, events.Event) error {
		published.Add(1)
		return nil
	}))

	result, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingA, result.Rating)
	assert.Equal(t, 96.25, result.Score)
	assert.True(t, f.cache.IsResultCached(ctx, lead.ID))

	stored := f.leads.stored(lead.ID)
	assert.Equal(t, domain.RatingA, stored.Rating)
	require.NotNil(t, stored.RatingScore)
	assert.Equal(t, 96.25, *stored.RatingScore)

	rows := f.historyFor(t, lead.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ReasonSystemAuto, rows[0].Reason)
	assert.Equal(t, scoring.Version, rows[0].Version)

	again, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, result, again)
	assert.Len(t, f.historyFor(t, lead.ID), 1)

	f.bus.Wait()
	assert.Equal(t, int32(1), published.Load())
}

func TestCalculateRatingSkipsHistoryWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	score := 96.25
	lead.Rating = domain.RatingA
	lead.RatingScore = &score
	f := newFixture(t, true, lead)

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	assert.Empty(t, f.historyFor(t, lead.ID))
	assert.Zero(t, f.leads.updates)
}

func TestCalculateRatingByIDUnknownLead(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CalculateRatingByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCalculateRatingRequiresEnabledRules(t *testing.T) {
	lead := fullLead()
	f := newFixture(t, false, lead)

	_, err := f.svc.CalculateRating(context.Background(), lead)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestConcurrentCalculationsShareOneComputation(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CalculateRating(ctx, lead)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.historyFor(t, lead.ID), 1)
}

func TestSharedCalculationSurvivesCallerCancellation(t *testing.T) {
	lead := fullLead()
	f := newFixture(t, true, lead)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingA, result.Rating)
	assert.Equal(t, domain.RatingA, f.leads.stored(lead.ID).Rating)
	assert.True(t, f.cache.IsResultCached(context.Background(), lead.ID))
	assert.Len(t, f.historyFor(t, lead.ID), 1)
}

func TestCalculateRatingWorksWithCacheDown(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)
	f.redis.Close()

	result, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingA, result.Rating)
	assert.Len(t, f.historyFor(t, lead.ID), 1)
}

func TestBatchCalculateSkipsUnknownLeads(t *testing.T) {
	ctx := context.Background()
	a, b := fullLead(), fullLead()
	b.InvestmentAmount = decimal.Zero
	f := newFixture(t, true, a, b)

	_, err := f.svc.CalculateRating(ctx, a)
	require.NoError(t, err)

	missing := uuid.New()
	out, err := f.svc.BatchCalculateRating(ctx, []uuid.UUID{a.ID, b.ID, missing, a.ID})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, a.ID)
	assert.Contains(t, out, b.ID)
	assert.NotContains(t, out, missing)
	assert.True(t, out[b.ID].Consistent())
}

func TestRecalculateAlwaysRecordsHistory(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)
	op := uuid.New()

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)

	result, err := f.svc.RecalculateRating(ctx, lead.ID, domain.ReasonPeriodicReview, &op)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingA, result.Rating)

	rows := f.historyFor(t, lead.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.ReasonPeriodicReview, rows[0].Reason)
	assert.Equal(t, domain.DirectionNoChange, rows[0].Direction())
	require.NotNil(t, rows[0].OperatorID)
	assert.Equal(t, op, *rows[0].OperatorID)

	_, err = f.svc.RecalculateRating(ctx, lead.ID, "BOGUS", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdjustRatingRejectsInconsistentScore(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	_, err := f.svc.AdjustRating(ctx, AdjustInput{LeadID: lead.ID, Rating: domain.RatingA, Score: 50, Reason: "customer call"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.AdjustRating(ctx, AdjustInput{LeadID: lead.ID, Rating: domain.RatingC, Score: 55})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.AdjustRating(ctx, AdjustInput{LeadID: uuid.New(), Rating: domain.RatingC, Score: 55, Reason: "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Empty(t, f.historyFor(t, lead.ID))
	assert.Zero(t, f.leads.updates)
}

func TestAdjustRatingOverridesCachedResult(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)
	op := uuid.New()

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)

	adjusted, err := f.svc.AdjustRating(ctx, AdjustInput{LeadID: lead.ID, Rating: domain.RatingB, Score: 75, Reason: "duplicate enquiry", Description: "same customer as an earlier lead", OperatorID: &op})
	require.NoError(t, err)
	assert.True(t, adjusted.ManualAdjustment)
	assert.Equal(t, "duplicate enquiry", adjusted.AdjustmentReason)

	stored := f.leads.stored(lead.ID)
	assert.Equal(t, domain.RatingB, stored.Rating)

	rows := f.historyFor(t, lead.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.ReasonManualAdjustment, rows[0].Reason)
	assert.True(t, rows[0].ManualAdjustment)
	assert.Equal(t, "same customer as an earlier lead", rows[0].Description)
	assert.Equal(t, domain.DirectionDowngrade, rows[0].Direction())

	got, err := f.svc.CalculateRating(ctx, stored)
	require.NoError(t, err)
	assert.True(t, got.ManualAdjustment)
	assert.Equal(t, domain.RatingB, got.Rating)
	assert.Len(t, f.historyFor(t, lead.ID), 2)
}

func TestRollbackRatingRestoresTarget(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	_, err = f.svc.AdjustRating(ctx, AdjustInput{LeadID: lead.ID, Rating: domain.RatingC, Score: 55, Reason: "incomplete contact"})
	require.NoError(t, err)

	rows := f.historyFor(t, lead.ID)
	require.Len(t, rows, 2)
	target := rows[1]

	row, err := f.svc.RollbackRating(ctx, RollbackInput{LeadID: lead.ID, TargetID: target.ID, Reason: "contact confirmed"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRollback, row.Reason)
	assert.Equal(t, domain.RatingC, row.PreviousRating)
	assert.Equal(t, domain.RatingA, row.CurrentRating)

	stored := f.leads.stored(lead.ID)
	assert.Equal(t, domain.RatingA, stored.Rating)
	require.NotNil(t, stored.RatingScore)
	assert.Equal(t, 96.25, *stored.RatingScore)
	assert.False(t, f.cache.IsResultCached(ctx, lead.ID))
	assert.Len(t, f.historyFor(t, lead.ID), 3)
}

func TestRollbackRatingRejectsCurrentTarget(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)
	rows := f.historyFor(t, lead.ID)
	require.Len(t, rows, 1)
	updatesBefore := f.leads.updates

	_, err = f.svc.RollbackRating(ctx, RollbackInput{LeadID: lead.ID, TargetID: rows[0].ID})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, updatesBefore, f.leads.updates)
	assert.Len(t, f.historyFor(t, lead.ID), 1)
}

func TestBatchRecalculateCountsFailures(t *testing.T) {
	ctx := context.Background()
	a, b := fullLead(), fullLead()
	b.CompanyName = ""
	f := newFixture(t, true, a, b)
	f.leads.ghosts = []uuid.UUID{uuid.New()}

	_, err := f.svc.CalculateRating(ctx, a)
	require.NoError(t, err)

	result, err := f.svc.BatchRecalculateRating(ctx, RecalculateInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failure)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], f.leads.ghosts[0].String())
	assert.False(t, result.Cancelled)

	// a already had the same values stored, b is new.
	assert.Len(t, f.historyFor(t, a.ID), 1)
	rows := f.historyFor(t, b.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ReasonBatchRerating, rows[0].Reason)
	assert.True(t, f.cache.IsResultCached(ctx, b.ID))
}

func TestPreviewRatingHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	result, err := f.svc.PreviewRating(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 96.25, result.Score)
	assert.False(t, f.cache.IsResultCached(ctx, lead.ID))
	assert.Empty(t, f.historyFor(t, lead.ID))
	assert.Zero(t, f.leads.updates)
}

func TestGetRatingDetail(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	detail, err := f.svc.GetRatingDetail(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingA, detail.Result.Rating)
	assert.Equal(t, domain.RatingA, detail.StoredRating)
	assert.Equal(t, 1, detail.HistoryTotal)
	assert.Len(t, detail.RecentHistory, 1)
}

func TestStatisticsAreCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.leads.distribution = map[domain.Rating]int64{
		domain.RatingA: 2,
		domain.RatingB: 2,
		domain.RatingD: 4,
		"":             2,
	}

	stats, err := f.svc.GetRatingStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.RatedLeads)
	assert.Equal(t, int64(10), stats.TotalLeads)
	assert.Equal(t, int64(4), stats.HighQualityCount)
	assert.Equal(t, 0.5, stats.HighQualityRatio)
	// (2*8 + 2*4 + 4*1) / 8
	assert.Equal(t, 3.5, stats.AverageExchangeValue)
	assert.Equal(t, int64(0), stats.Distribution[domain.RatingC])

	f.leads.distribution = map[domain.Rating]int64{domain.RatingA: 100}
	again, err := f.svc.GetRatingStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.RatedLeads, again.RatedLeads)

	dist, err := f.svc.GetRatingDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dist[domain.RatingA])
}

func TestStatisticsInRangeAreCachedPerRange(t *testing.T) {
	ctx := context.Background()
	lead := fullLead()
	f := newFixture(t, true, lead)

	_, err := f.svc.CalculateRating(ctx, lead)
	require.NoError(t, err)

	dayStart, dayEnd := fixedNow, fixedNow.Add(24*time.Hour)
	stats, err := f.svc.GetRatingStatisticsInRange(ctx, dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.History.Total)
	assert.Equal(t, dayStart, stats.WindowStart)
	assert.True(t, f.redis.Exists("test:statistics:overview:2026-03-01T12:00:00Z:2026-03-02T12:00:00Z"))

	earlier, err := f.svc.GetRatingStatisticsInRange(ctx, fixedNow.Add(-48*time.Hour), fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, earlier.History.Total)

	_, err = f.svc.RecalculateRating(ctx, lead.ID, domain.ReasonInfoUpdate, nil)
	require.NoError(t, err)
	again, err := f.svc.GetRatingStatisticsInRange(ctx, dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, again.History.Total)

	_, err = f.svc.GetRatingStatisticsInRange(ctx, dayEnd, dayStart)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.GetRatingStatisticsInRange(ctx, time.Time{}, dayEnd)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestGetRatingTrend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	points, err := f.svc.GetRatingTrend(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, points, 7)
	assert.Equal(t, time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC), points[0].Period.UTC())

	_, err = f.svc.GetRatingTrend(ctx, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRefreshRuleCacheReloadsEnabledRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	report, err := f.svc.RefreshRuleCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Loaded)

	cached, ok := f.cache.GetRules(ctx)
	require.True(t, ok)
	assert.Len(t, cached, 7)
}

func TestValidateRulesFlagsWeightImbalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	set := domain.DefaultRules()
	set[0].Weight = decimal.RequireFromString("0.90")
	res, err := f.svc.ValidateRules(ctx, set)
	require.NoError(t, err)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "weights sum to 1.65") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", res.Warnings)
}

func TestWarmupCacheComputesMissingResults(t *testing.T) {
	ctx := context.Background()
	a, b := fullLead(), fullLead()
	f := newFixture(t, true, a, b)

	_, err := f.svc.CalculateRating(ctx, a)
	require.NoError(t, err)

	report, err := f.svc.WarmupCache(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, f.cache.IsResultCached(ctx, b.ID))
}
