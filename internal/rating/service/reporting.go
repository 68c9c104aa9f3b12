package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/internal/rating/rules"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

const (
	statisticsKey   = "overview"
	distributionKey = "distribution"
	maxTrendDays    = 366
)

// RatingDetail is a lead's current result with its recent history.
type RatingDetail struct {
	Result        domain.Result    `json:"result"`
	StoredRating  domain.Rating    `json:"storedRating,omitempty"`
	StoredScore   *float64         `json:"storedScore,omitempty"`
	RecentHistory []domain.History `json:"recentHistory"`
	HistoryTotal  int              `json:"historyTotal"`
}

// GetRatingDetail calculates the lead's rating and attaches its latest
// history rows.
func (s *Service) GetRatingDetail(ctx context.Context, leadID uuid.UUID) (RatingDetail, error) {
	lead, err := s.loadLead(ctx, "rating.GetRatingDetail", leadID)
	if err != nil {
		return RatingDetail{}, err
	}
	result, err := s.CalculateRating(ctx, lead)
	if err != nil {
		return RatingDetail{}, err
	}
	page, err := s.history.ListByLead(ctx, leadID, repository.Page{Page: 1, PageSize: detailHistorySize})
	if err != nil {
		return RatingDetail{}, err
	}

	// CalculateRating may have written back new values.
	stored, err := s.leads.GetLeadByID(ctx, leadID)
	if err != nil {
		return RatingDetail{}, mapLeadError("rating.GetRatingDetail", err)
	}
	return RatingDetail{
		Result:        result,
		StoredRating:  stored.Rating,
		StoredScore:   stored.RatingScore,
		RecentHistory: page.Items,
		HistoryTotal:  page.Total,
	}, nil
}

// RatingStatistics is the dashboard overview.
type RatingStatistics struct {
	Distribution         map[domain.Rating]int64 `json:"distribution"`
	TotalLeads           int64                   `json:"totalLeads"`
	RatedLeads           int64                   `json:"ratedLeads"`
	HighQualityCount     int64                   `json:"highQualityCount"`
	HighQualityRatio     float64                 `json:"highQualityRatio"`
	AverageExchangeValue float64                 `json:"averageExchangeValue"`
	AverageScore         float64                 `json:"averageScore"`
	History              history.Statistics      `json:"history"`
	WindowStart          time.Time               `json:"windowStart"`
	WindowEnd            time.Time               `json:"windowEnd"`
	GeneratedAt          time.Time               `json:"generatedAt"`
}

// GetRatingStatistics combines the current distribution with history over
// the last 30 days. The overview is cached in the statistics namespace.
func (s *Service) GetRatingStatistics(ctx context.Context) (RatingStatistics, error) {
	end := s.now().UTC()
	return s.ratingStatistics(ctx, statisticsKey, end.Add(-statisticsWindow), end)
}

// GetRatingStatisticsInRange is GetRatingStatistics with the history part
// limited to [start, end]. Each range is cached under its own key.
func (s *Service) GetRatingStatisticsInRange(ctx context.Context, start, end time.Time) (RatingStatistics, error) {
	const op = "rating.GetRatingStatisticsInRange"
	if start.IsZero() || end.IsZero() {
		return RatingStatistics{}, apperr.Validation("start and end are required").WithOp(op)
	}
	if end.Before(start) {
		return RatingStatistics{}, apperr.Validation("end must not be before start").WithOp(op)
	}
	start, end = start.UTC(), end.UTC()
	key := fmt.Sprintf("%s:%s:%s", statisticsKey, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return s.ratingStatistics(ctx, key, start, end)
}

func (s *Service) ratingStatistics(ctx context.Context, key string, start, end time.Time) (RatingStatistics, error) {
	var stats RatingStatistics
	if cachedJSON(ctx, s.cache, key, &stats) {
		return stats, nil
	}

	dist, err := s.GetRatingDistribution(ctx)
	if err != nil {
		return RatingStatistics{}, err
	}
	hist, err := s.history.Statistics(ctx, start, end)
	if err != nil {
		return RatingStatistics{}, err
	}

	stats = RatingStatistics{
		Distribution: dist,
		History:      hist,
		AverageScore: hist.AverageScore,
		WindowStart:  start,
		WindowEnd:    end,
		GeneratedAt:  s.now().UTC(),
	}
	var exchange int64
	for _, r := range domain.AllRatings() {
		n := dist[r]
		stats.RatedLeads += n
		exchange += n * int64(r.ExchangeValue())
		if r.IsHighQuality() {
			stats.HighQualityCount += n
		}
	}
	stats.TotalLeads = stats.RatedLeads + dist[unratedBucket]
	if stats.RatedLeads > 0 {
		stats.HighQualityRatio = round2(float64(stats.HighQualityCount) / float64(stats.RatedLeads))
		stats.AverageExchangeValue = round2(float64(exchange) / float64(stats.RatedLeads))
	}

	s.storeStatistic(ctx, key, stats)
	return stats, nil
}

// unratedBucket is the distribution key lead providers use for leads that
// were never rated.
const unratedBucket domain.Rating = ""

// GetRatingDistribution returns lead counts per rating, cached.
func (s *Service) GetRatingDistribution(ctx context.Context) (map[domain.Rating]int64, error) {
	var dist map[domain.Rating]int64
	if cachedJSON(ctx, s.cache, distributionKey, &dist) {
		return dist, nil
	}
	dist, err := s.leads.GetRatingDistribution(ctx)
	if err != nil {
		return nil, err
	}
	if dist == nil {
		dist = map[domain.Rating]int64{}
	}
	for _, r := range domain.AllRatings() {
		if _, ok := dist[r]; !ok {
			dist[r] = 0
		}
	}
	s.storeStatistic(ctx, distributionKey, dist)
	return dist, nil
}

// GetRatingTrend returns the daily lead-side rating trend for the last days
// days, today included.
func (s *Service) GetRatingTrend(ctx context.Context, days int) ([]ports.TrendPoint, error) {
	if days < 1 || days > maxTrendDays {
		return nil, apperr.Validationf("days must be between 1 and %d", maxTrendDays).WithOp("rating.GetRatingTrend")
	}
	end := s.now().UTC()
	start := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
	key := fmt.Sprintf("trend:%d:%s", days, end.Format("2006-01-02"))

	var points []ports.TrendPoint
	if cachedJSON(ctx, s.cache, key, &points) {
		return points, nil
	}
	points, err := s.leads.GetRatingTrend(ctx, start, end, ports.GranularityDay)
	if err != nil {
		return nil, err
	}
	s.storeStatistic(ctx, key, points)
	return points, nil
}

// ValidateRules checks a candidate rule set without saving it.
func (s *Service) ValidateRules(ctx context.Context, set []domain.Rule) (rules.ValidationResult, error) {
	return s.rules.ValidateSet(ctx, set)
}

// RefreshRuleCache drops cached rule configuration and reloads it from the
// store.
func (s *Service) RefreshRuleCache(ctx context.Context) (cache.WarmupReport, error) {
	if _, err := s.cache.ClearRuleConfigs(ctx); err != nil {
		return cache.WarmupReport{}, err
	}
	report, err := s.cache.WarmupRuleConfigs(ctx, s.rules.ListEnabledFresh)
	if err != nil {
		return report, err
	}
	s.log.WithContext(ctx).Info("rule cache refreshed", "rules", report.Loaded)
	return report, nil
}

func (s *Service) storeStatistic(ctx context.Context, key string, value any) {
	if err := s.cache.SetStatistic(ctx, key, value); err != nil {
		s.log.WithContext(ctx).CacheError("set_statistic", key, err)
	}
}

func cachedJSON(ctx context.Context, c ResultCache, key string, dest any) bool {
	raw, ok := c.GetRaw(ctx, cache.NamespaceStatistics, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
