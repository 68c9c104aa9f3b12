// Package ports defines the collaborators the rating engine consumes but
// does not own.
package ports

import (
	"context"
	"errors"
	"time"

	"lead_rating_engine/internal/rating/domain"

	"github.com/google/uuid"
)

// ErrLeadNotFound is returned by LeadProvider implementations for unknown ids.
var ErrLeadNotFound = errors.New("lead not found")

// ErrOperatorNotFound is returned by OperatorDirectory for unknown ids.
var ErrOperatorNotFound = errors.New("operator not found")

// Granularity buckets time series.
type Granularity string

const (
	GranularityDay   Granularity = "DAY"
	GranularityWeek  Granularity = "WEEK"
	GranularityMonth Granularity = "MONTH"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// LeadCondition selects leads for batch re-rating. Zero fields match all.
type LeadCondition struct {
	LeadIDs     []uuid.UUID     `json:"leadIds,omitempty"`
	Ratings     []domain.Rating `json:"ratings,omitempty"`
	Unrated     bool            `json:"unrated,omitempty"`
	MinScore    *float64        `json:"minScore,omitempty"`
	MaxScore    *float64        `json:"maxScore,omitempty"`
	CreatedFrom *time.Time      `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time      `json:"createdTo,omitempty"`
	Industry    string          `json:"industry,omitempty"`
	Region      string          `json:"region,omitempty"`
	Limit       int             `json:"limit,omitempty"`
}

// TrendPoint is one bucket of the lead-side rating trend.
type TrendPoint struct {
	Period       time.Time               `json:"period"`
	Counts       map[domain.Rating]int64 `json:"counts"`
	Total        int64                   `json:"total"`
	AverageScore float64                 `json:"averageScore"`
}

// LeadProvider is the lead service as seen by the engine.
type LeadProvider interface {
	GetLeadByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	UpdateLeadRating(ctx context.Context, id uuid.UUID, rating domain.Rating, score float64) error
	GetLeadIDsByCondition(ctx context.Context, cond LeadCondition) ([]uuid.UUID, error)
	GetRatingDistribution(ctx context.Context) (map[domain.Rating]int64, error)
	GetRatingTrend(ctx context.Context, start, end time.Time, granularity Granularity) ([]TrendPoint, error)
}

// OperatorDirectory resolves operator display names for history attribution.
type OperatorDirectory interface {
	GetOperatorName(ctx context.Context, id uuid.UUID) (string, error)
}
