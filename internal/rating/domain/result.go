package domain

import (
	"time"

	"github.com/google/uuid"
)

// Result is a computed rating. It lives in the cache and in the lead's
// stored rating fields; it is not persisted elsewhere.
type Result struct {
	LeadID             uuid.UUID            `json:"leadId"`
	Rating             Rating               `json:"rating"`
	Score              float64              `json:"score"`
	DimensionScores    map[RuleType]float64 `json:"dimensionScores"`
	CalculationDetails string               `json:"calculationDetails"`
	CalculatedAt       time.Time            `json:"calculatedAt"`
	Version            string               `json:"version"`
	ManualAdjustment   bool                 `json:"manualAdjustment"`
	AdjustmentReason   string               `json:"adjustmentReason,omitempty"`
}

// Consistent reports whether score lies in [0,100] and maps to Rating.
func (r Result) Consistent() bool {
	return r.Score >= 0 && r.Score <= 100 && RatingFromScore(r.Score) == r.Rating
}
