package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) // a Monday

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Minute)
	return t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type operators map[uuid.UUID]string

func (o operators) GetOperatorName(_ context.Context, id uuid.UUID) (string, error) {
	if name, ok := o[id]; ok {
		return name, nil
	}
	return "", ports.ErrOperatorNotFound
}

func newTestService(t *testing.T, dir ports.OperatorDirectory) (*Service, *stepClock) {
	t.Helper()
	clock := &stepClock{now: base}
	store := repository.NewMemoryStore(clock.Now)
	return New(store, store, dir, logger.Discard()).WithClock(clock.Now), clock
}

func score(v float64) *float64 { return &v }

func record(t *testing.T, svc *Service, lead uuid.UUID, prev domain.Rating, prevScore float64, cur domain.Rating, curScore float64, reason domain.ChangeReason) domain.History {
	t.Helper()
	in := RecordInput{LeadID: lead, CurrentRating: cur, CurrentScore: curScore, Reason: reason, Version: "v2.0.0"}
	if prev != "" {
		in.PreviousRating = prev
		in.PreviousScore = score(prevScore)
	}
	h, err := svc.Record(context.Background(), in)
	require.NoError(t, err)
	return h
}

func TestRecordIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()

	first := record(t, svc, lead, "", 0, domain.RatingC, 55, domain.ReasonSystemAuto)
	for i := 0; i < 4; i++ {
		record(t, svc, lead, domain.RatingC, 55, domain.RatingB, 72, domain.ReasonInfoUpdate)
	}

	n, err := svc.CountByLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	again, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRecordValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	cases := []RecordInput{
		{CurrentRating: domain.RatingA, CurrentScore: 95, Reason: domain.ReasonSystemAuto},
		{LeadID: uuid.New(), CurrentRating: "Z", CurrentScore: 95, Reason: domain.ReasonSystemAuto},
		{LeadID: uuid.New(), CurrentRating: domain.RatingA, CurrentScore: 101, Reason: domain.ReasonSystemAuto},
		{LeadID: uuid.New(), CurrentRating: domain.RatingA, CurrentScore: 95, Reason: "WHIM"},
	}
	for i, in := range cases {
		_, err := svc.Record(ctx, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "case %d", i)
	}
}

func TestRecordResolvesOperatorName(t *testing.T) {
	known, unknown := uuid.New(), uuid.New()
	svc, _ := newTestService(t, operators{known: "Dana"})
	lead := uuid.New()

	h, err := svc.Record(context.Background(), RecordInput{
		LeadID: lead, CurrentRating: domain.RatingB, CurrentScore: 75,
		Reason: domain.ReasonManualAdjustment, OperatorID: &known, Description: "<b>checked</b> by phone",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dana", h.OperatorName)
	assert.Equal(t, "checked by phone", h.Description)

	h, err = svc.Record(context.Background(), RecordInput{
		LeadID: lead, CurrentRating: domain.RatingB, CurrentScore: 75,
		Reason: domain.ReasonManualAdjustment, OperatorID: &unknown,
	})
	require.NoError(t, err)
	assert.Empty(t, h.OperatorName)
}

func TestListByLeadIsNewestFirstAndPaged(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, record(t, svc, lead, "", 0, domain.RatingC, float64(50+i), domain.ReasonSystemAuto).ID)
	}
	record(t, svc, uuid.New(), "", 0, domain.RatingD, 10, domain.ReasonSystemAuto)

	page, err := svc.ListByLead(ctx, lead, repository.Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[4], page.Items[0].ID)
	assert.Equal(t, ids[3], page.Items[1].ID)

	page, err = svc.ListByLead(ctx, lead, repository.Page{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)
}

func TestUpgradeAndDowngradeViews(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()
	up := record(t, svc, lead, domain.RatingC, 55, domain.RatingA, 92, domain.ReasonInfoUpdate)
	down := record(t, svc, lead, domain.RatingA, 92, domain.RatingD, 20, domain.ReasonComplaintHandling)
	record(t, svc, lead, domain.RatingD, 20, domain.RatingD, 25, domain.ReasonSystemAuto)

	ups, err := svc.ListUpgrades(ctx, repository.Page{})
	require.NoError(t, err)
	require.Len(t, ups.Items, 1)
	assert.Equal(t, up.ID, ups.Items[0].ID)

	downs, err := svc.ListDowngrades(ctx, repository.Page{})
	require.NoError(t, err)
	require.Len(t, downs.Items, 1)
	assert.Equal(t, down.ID, downs.Items[0].ID)

	pair, err := svc.ListByRatingChange(ctx, domain.RatingA, domain.RatingD, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, pair.Total)

	byReason, err := svc.ListByReason(ctx, domain.ReasonComplaintHandling, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, byReason.Total)
}

func TestStatisticsAggregatesRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()
	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	record(t, svc, lead, domain.RatingC, 50, domain.RatingB, 70, domain.ReasonInfoUpdate)
	record(t, svc, lead, domain.RatingB, 70, domain.RatingC, 60, domain.ReasonDataCorrection)

	stats, err := svc.Statistics(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Upgrades)
	assert.Equal(t, 1, stats.Downgrades)
	assert.Equal(t, 1, stats.NoChange)
	assert.Equal(t, 1, stats.ByReason[domain.ReasonInfoUpdate])
	assert.Equal(t, 1, stats.FromRating[domain.RatingB])
	assert.Equal(t, 2, stats.ToRating[domain.RatingC])
	assert.InDelta(t, 5.0, stats.AverageScoreDelta, 1e-9)
	assert.InDelta(t, 60.0, stats.AverageScore, 1e-9)
	require.NotNil(t, stats.FirstChangeAt)
	assert.Equal(t, base, *stats.FirstChangeAt)
	assert.Equal(t, base.Add(2*time.Minute), *stats.LastChangeAt)

	_, err = svc.Statistics(ctx, base, base.Add(-time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTrendBucketsByDay(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, nil)
	lead := uuid.New()

	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	record(t, svc, lead, domain.RatingC, 50, domain.RatingB, 70, domain.ReasonInfoUpdate)
	clock.Set(base.AddDate(0, 0, 2))
	record(t, svc, lead, domain.RatingB, 70, domain.RatingD, 30, domain.ReasonDataCorrection)

	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 0, 2)
	buckets, err := svc.Trend(ctx, start, end, ports.GranularityDay)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, 2, buckets[0].Total)
	assert.Equal(t, 1, buckets[0].Upgrades)
	assert.InDelta(t, 60.0, buckets[0].AverageScore, 1e-9)
	assert.Equal(t, 0, buckets[1].Total)
	assert.Equal(t, 1, buckets[2].Total, "row at the range end belongs to the last bucket")
	assert.Equal(t, 1, buckets[2].Downgrades)

	_, err = svc.Trend(ctx, start, end, "HOUR")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTrendRejectsRangesWithTooManyBuckets(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()
	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	_, err := svc.Trend(ctx, start, end, ports.GranularityDay)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	weeks, err := svc.Trend(ctx, start, end, ports.GranularityWeek)
	require.NoError(t, err)
	assert.Less(t, len(weeks), MaxTrendBuckets)
	total := 0
	for _, b := range weeks {
		total += b.Total
	}
	assert.Equal(t, 1, total)
}

func TestBucketsAlignToWeeksAndMonths(t *testing.T) {
	start := time.Date(2026, 4, 29, 12, 0, 0, 0, time.UTC) // Wednesday
	end := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

	weeks := Buckets(start, end, ports.GranularityWeek)
	require.Len(t, weeks, 4)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), weeks[0].PeriodEnd)
	assert.Equal(t, end, weeks[3].PeriodEnd)

	months := Buckets(start, end, ports.GranularityMonth)
	require.Len(t, months, 2)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), months[1].PeriodStart)
}

func TestOperatorStatistics(t *testing.T) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	svc, _ := newTestService(t, operators{alice: "Alice", bob: "Bob"})
	lead := uuid.New()

	for _, in := range []RecordInput{
		{LeadID: lead, PreviousRating: domain.RatingC, PreviousScore: score(50), CurrentRating: domain.RatingB, CurrentScore: 70, Reason: domain.ReasonManualAdjustment, OperatorID: &alice},
		{LeadID: lead, PreviousRating: domain.RatingB, PreviousScore: score(70), CurrentRating: domain.RatingA, CurrentScore: 90, Reason: domain.ReasonManualAdjustment, OperatorID: &alice},
		{LeadID: lead, PreviousRating: domain.RatingA, PreviousScore: score(90), CurrentRating: domain.RatingC, CurrentScore: 50, Reason: domain.ReasonAuditAdjustment, OperatorID: &bob},
		{LeadID: lead, CurrentRating: domain.RatingC, CurrentScore: 50, Reason: domain.ReasonSystemAuto},
	} {
		_, err := svc.Record(ctx, in)
		require.NoError(t, err)
	}

	stats, err := svc.OperatorStatistics(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Alice", stats[0].OperatorName)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 2, stats[0].Upgrades)
	assert.InDelta(t, 20.0, stats[0].AverageScoreDelta, 1e-9)
	assert.Equal(t, 1, stats[1].Downgrades)
	assert.InDelta(t, -40.0, stats[1].AverageScoreDelta, 1e-9)
}

func TestDeleteExpiredUsesRetention(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, nil)
	lead := uuid.New()

	clock.Set(base.AddDate(0, 0, -400))
	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	clock.Set(base.AddDate(0, 0, -10))
	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	clock.Set(base)

	deleted, err := svc.DeleteExpired(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	n, err := svc.CountByLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.DeleteExpired(ctx, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBatchDeleteReportsPerItem(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	lead := uuid.New()
	a := record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	b := record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)

	res, err := svc.BatchDelete(ctx, []uuid.UUID{a.ID, uuid.New(), b.ID, a.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 2)

	n, err := svc.CountByLead(ctx, lead)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportReturnsRange(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, nil)
	lead := uuid.New()
	record(t, svc, lead, "", 0, domain.RatingC, 50, domain.ReasonSystemAuto)
	clock.Set(base.AddDate(0, 0, 3))
	record(t, svc, lead, "", 0, domain.RatingB, 70, domain.ReasonSystemAuto)

	rows, err := svc.Export(ctx, base.Add(-time.Minute), base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.RatingC, rows[0].CurrentRating)
}
