package rules

import (
	"context"
	"time"

	"lead_rating_engine/internal/rating/domain"
)

// Statistics summarizes the rule set.
type Statistics struct {
	Total            int                              `json:"total"`
	Enabled          int                              `json:"enabled"`
	Disabled         int                              `json:"disabled"`
	ByType           map[domain.RuleType]int          `json:"byType"`
	ByMethod         map[domain.CalculationMethod]int `json:"byMethod"`
	EnabledWeightSum float64                          `json:"enabledWeightSum"`
	WeightBalanced   bool                             `json:"weightBalanced"`
	LastUpdatedAt    *time.Time                       `json:"lastUpdatedAt,omitempty"`
}

func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	rules, err := s.store.ListRules(ctx, ruleFilterAll)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Total:    len(rules),
		ByType:   make(map[domain.RuleType]int),
		ByMethod: make(map[domain.CalculationMethod]int),
	}
	for _, r := range rules {
		if r.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByType[r.Type]++
		stats.ByMethod[r.Method]++
	}

	sum := domain.EnabledWeightSum(rules)
	stats.EnabledWeightSum, _ = sum.Round(2).Float64()
	stats.WeightBalanced = stats.Enabled > 0 && sum.Sub(weightMax).Abs().LessThanOrEqual(tolerance)
	if last := lastUpdated(rules); !last.IsZero() {
		stats.LastUpdatedAt = &last
	}
	return stats, nil
}
