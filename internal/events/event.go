// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"lead_rating_engine/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Rating Domain Events
// =============================================================================

const (
	LeadRatingChangedName  = "rating.lead.rating_changed"
	RatingRulesChangedName = "rating.rules.changed"
)

// LeadRatingChanged is published after a history row for a lead is committed.
type LeadRatingChanged struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	HistoryID      uuid.UUID  `json:"historyId"`
	PreviousRating string     `json:"previousRating,omitempty"`
	CurrentRating  string     `json:"currentRating"`
	CurrentScore   float64    `json:"currentScore"`
	Reason         string     `json:"reason"`
	OperatorID     *uuid.UUID `json:"operatorId,omitempty"`
	Manual         bool       `json:"manual"`
}

func (e LeadRatingChanged) EventName() string { return LeadRatingChangedName }

// RatingRulesChanged is published after any rule mutation commits.
type RatingRulesChanged struct {
	BaseEvent
	Action  string      `json:"action"`
	RuleIDs []uuid.UUID `json:"ruleIds,omitempty"`
}

func (e RatingRulesChanged) EventName() string { return RatingRulesChangedName }
