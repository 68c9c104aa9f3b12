package history

import (
	"context"
	"math"
	"sort"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

// Statistics summarizes the history rows in a time range.
type Statistics struct {
	Start             time.Time                   `json:"start"`
	End               time.Time                   `json:"end"`
	Total             int                         `json:"total"`
	Upgrades          int                         `json:"upgrades"`
	Downgrades        int                         `json:"downgrades"`
	NoChange          int                         `json:"noChange"`
	ByReason          map[domain.ChangeReason]int `json:"byReason"`
	FromRating        map[domain.Rating]int       `json:"fromRating"`
	ToRating          map[domain.Rating]int       `json:"toRating"`
	AverageScoreDelta float64                     `json:"averageScoreDelta"`
	AverageScore      float64                     `json:"averageScore"`
	FirstChangeAt     *time.Time                  `json:"firstChangeAt,omitempty"`
	LastChangeAt      *time.Time                  `json:"lastChangeAt,omitempty"`
}

// TrendBucket is one window of the change trend. A bucket covers
// [PeriodStart, PeriodEnd); the final bucket also includes the range end.
type TrendBucket struct {
	PeriodStart  time.Time `json:"periodStart"`
	PeriodEnd    time.Time `json:"periodEnd"`
	Total        int       `json:"total"`
	Upgrades     int       `json:"upgrades"`
	Downgrades   int       `json:"downgrades"`
	AverageScore float64   `json:"averageScore"`
}

// OperatorStatistics summarizes one operator's changes.
type OperatorStatistics struct {
	OperatorID        uuid.UUID `json:"operatorId"`
	OperatorName      string    `json:"operatorName,omitempty"`
	Total             int       `json:"total"`
	Upgrades          int       `json:"upgrades"`
	Downgrades        int       `json:"downgrades"`
	AverageScoreDelta float64   `json:"averageScoreDelta"`
	LastOperationAt   time.Time `json:"lastOperationAt"`
}

func (s *Service) inRange(ctx context.Context, start, end time.Time) ([]domain.History, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.store.ListAllHistory(ctx, repository.HistoryFilter{From: &start, To: &end})
}

// Statistics aggregates the rows rated in [start, end]. The mean score
// delta only counts rows that carry a previous score.
func (s *Service) Statistics(ctx context.Context, start, end time.Time) (Statistics, error) {
	rows, err := s.inRange(ctx, start, end)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Start:      start,
		End:        end,
		Total:      len(rows),
		ByReason:   make(map[domain.ChangeReason]int),
		FromRating: make(map[domain.Rating]int),
		ToRating:   make(map[domain.Rating]int),
	}

	var deltaSum, scoreSum float64
	deltas := 0
	for _, h := range rows {
		switch h.Direction() {
		case domain.DirectionUpgrade:
			stats.Upgrades++
		case domain.DirectionDowngrade:
			stats.Downgrades++
		default:
			stats.NoChange++
		}
		stats.ByReason[h.Reason]++
		if h.PreviousRating.Valid() {
			stats.FromRating[h.PreviousRating]++
		}
		stats.ToRating[h.CurrentRating]++
		scoreSum += h.CurrentScore
		if h.PreviousScore != nil {
			deltaSum += h.ScoreDelta()
			deltas++
		}

		at := h.RatedAt
		if stats.FirstChangeAt == nil || at.Before(*stats.FirstChangeAt) {
			stats.FirstChangeAt = &at
		}
		if stats.LastChangeAt == nil || at.After(*stats.LastChangeAt) {
			stats.LastChangeAt = &at
		}
	}
	if deltas > 0 {
		stats.AverageScoreDelta = round2(deltaSum / float64(deltas))
	}
	if len(rows) > 0 {
		stats.AverageScore = round2(scoreSum / float64(len(rows)))
	}
	return stats, nil
}

// MaxTrendBuckets bounds the number of windows one trend request may span.
const MaxTrendBuckets = 1000

// Trend buckets the rows in [start, end] by granularity.
func (s *Service) Trend(ctx context.Context, start, end time.Time, granularity ports.Granularity) ([]TrendBucket, error) {
	if !granularity.Valid() {
		return nil, apperr.Validationf("unsupported granularity %q", granularity).WithOp("history.Trend")
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if bucketCount(start, end, granularity, MaxTrendBuckets) > MaxTrendBuckets {
		return nil, apperr.Validationf("range spans more than %d %s buckets", MaxTrendBuckets, granularity).WithOp("history.Trend")
	}
	rows, err := s.inRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	buckets := Buckets(start, end, granularity)
	sums := make([]float64, len(buckets))
	for _, h := range rows {
		i := bucketIndex(buckets, h.RatedAt)
		if i < 0 {
			continue
		}
		b := &buckets[i]
		b.Total++
		sums[i] += h.CurrentScore
		switch h.Direction() {
		case domain.DirectionUpgrade:
			b.Upgrades++
		case domain.DirectionDowngrade:
			b.Downgrades++
		}
	}
	for i := range buckets {
		if buckets[i].Total > 0 {
			buckets[i].AverageScore = round2(sums[i] / float64(buckets[i].Total))
		}
	}
	return buckets, nil
}

// Buckets splits [start, end] into consecutive windows. Day windows start at
// midnight UTC, week windows on Monday, month windows on the 1st; the first
// window is clipped to start and the last to end.
func Buckets(start, end time.Time, granularity ports.Granularity) []TrendBucket {
	var out []TrendBucket
	walkBuckets(start, end, granularity, func(from, to time.Time) bool {
		out = append(out, TrendBucket{PeriodStart: from, PeriodEnd: to})
		return true
	})
	return out
}

// bucketCount counts the windows Buckets would produce, stopping once it
// passes limit.
func bucketCount(start, end time.Time, granularity ports.Granularity, limit int) int {
	n := 0
	walkBuckets(start, end, granularity, func(time.Time, time.Time) bool {
		n++
		return n <= limit
	})
	return n
}

func walkBuckets(start, end time.Time, granularity ports.Granularity, yield func(from, to time.Time) bool) {
	start, end = start.UTC(), end.UTC()
	cur := start
	for first := true; cur.Before(end) || (first && cur.Equal(end)); first = false {
		next := nextBoundary(cur, granularity)
		if next.After(end) {
			next = end
		}
		if !yield(cur, next) || !next.After(cur) {
			return
		}
		cur = next
	}
}

func nextBoundary(t time.Time, granularity ports.Granularity) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch granularity {
	case ports.GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, 7-offset)
	case ports.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return day.AddDate(0, 0, 1)
	}
}

func bucketIndex(buckets []TrendBucket, at time.Time) int {
	last := len(buckets) - 1
	if last < 0 || at.Before(buckets[0].PeriodStart) {
		return -1
	}
	i := sort.Search(len(buckets), func(i int) bool { return at.Before(buckets[i].PeriodEnd) })
	if i <= last {
		return i
	}
	if at.Equal(buckets[last].PeriodEnd) {
		return last
	}
	return -1
}

// OperatorStatistics aggregates operator-attributed rows in [start, end],
// busiest operator first.
func (s *Service) OperatorStatistics(ctx context.Context, start, end time.Time) ([]OperatorStatistics, error) {
	rows, err := s.inRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	type acc struct {
		stats  OperatorStatistics
		deltas int
		sum    float64
	}
	byOp := make(map[uuid.UUID]*acc)
	for _, h := range rows {
		if h.OperatorID == nil {
			continue
		}
		a, ok := byOp[*h.OperatorID]
		if !ok {
			a = &acc{stats: OperatorStatistics{OperatorID: *h.OperatorID}}
			byOp[*h.OperatorID] = a
		}
		a.stats.Total++
		if a.stats.OperatorName == "" {
			a.stats.OperatorName = h.OperatorName
		}
		switch h.Direction() {
		case domain.DirectionUpgrade:
			a.stats.Upgrades++
		case domain.DirectionDowngrade:
			a.stats.Downgrades++
		}
		if h.PreviousScore != nil {
			a.sum += h.ScoreDelta()
			a.deltas++
		}
		if h.RatedAt.After(a.stats.LastOperationAt) {
			a.stats.LastOperationAt = h.RatedAt
		}
	}

	out := make([]OperatorStatistics, 0, len(byOp))
	for _, a := range byOp {
		if a.deltas > 0 {
			a.stats.AverageScoreDelta = round2(a.sum / float64(a.deltas))
		}
		out = append(out, a.stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].LastOperationAt.After(out[j].LastOperationAt)
	})
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
