package domain

import (
	"time"

	"github.com/google/uuid"
)

// History is one immutable audit row. Rows are only ever appended.
type History struct {
	ID                 uuid.UUID    `json:"id"`
	LeadID             uuid.UUID    `json:"leadId"`
	PreviousRating     Rating       `json:"previousRating,omitempty"`
	PreviousScore      *float64     `json:"previousScore,omitempty"`
	CurrentRating      Rating       `json:"currentRating"`
	CurrentScore       float64      `json:"currentScore"`
	Reason             ChangeReason `json:"reason"`
	OperatorID         *uuid.UUID   `json:"operatorId,omitempty"`
	OperatorName       string       `json:"operatorName,omitempty"`
	Description        string       `json:"description,omitempty"`
	CalculationDetails string       `json:"calculationDetails,omitempty"`
	Version            string       `json:"version,omitempty"`
	ManualAdjustment   bool         `json:"manualAdjustment"`
	RatedAt            time.Time    `json:"ratedAt"`
}

// ChangeDirection classifies a history row.
type ChangeDirection string

const (
	DirectionUpgrade   ChangeDirection = "UPGRADE"
	DirectionDowngrade ChangeDirection = "DOWNGRADE"
	DirectionNoChange  ChangeDirection = "NO_CHANGE"
)

// Direction compares previous and current rating by rank. A first rating
// (no previous) counts as no change.
func (h History) Direction() ChangeDirection {
	if !h.PreviousRating.Valid() {
		return DirectionNoChange
	}
	switch cmp := CompareRatings(h.PreviousRating, h.CurrentRating); {
	case cmp > 0:
		return DirectionUpgrade
	case cmp < 0:
		return DirectionDowngrade
	}
	return DirectionNoChange
}

func (h History) IsUpgrade() bool   { return h.Direction() == DirectionUpgrade }
func (h History) IsDowngrade() bool { return h.Direction() == DirectionDowngrade }

// ScoreDelta is current minus previous score, 0 when there is no previous.
func (h History) ScoreDelta() float64 {
	if h.PreviousScore == nil {
		return 0
	}
	return h.CurrentScore - *h.PreviousScore
}
