package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

// MaxRollbackSteps bounds how far back a rollback may reach.
const MaxRollbackSteps = 10

// RollbackSuggestion describes the rollback options for a lead.
type RollbackSuggestion struct {
	LeadID          uuid.UUID        `json:"leadId"`
	CanRollback     bool             `json:"canRollback"`
	Reason          string           `json:"reason"`
	Recommendation  string           `json:"recommendation,omitempty"`
	Current         *domain.History  `json:"current,omitempty"`
	Suggested       *domain.History  `json:"suggested,omitempty"`
	Options         []domain.History `json:"options,omitempty"`
	MaxRollbackStep int              `json:"maxRollbackSteps"`
}

// RollbackSuggestions offers the recent rows before the latest one as
// rollback targets. When the latest change was manual, the newest
// automatically computed row is suggested.
func (s *Service) RollbackSuggestions(ctx context.Context, leadID uuid.UUID) (RollbackSuggestion, error) {
	rows, err := s.store.LatestHistory(ctx, leadID, MaxRollbackSteps+1)
	if err != nil {
		return RollbackSuggestion{}, err
	}

	out := RollbackSuggestion{LeadID: leadID}
	switch len(rows) {
	case 0:
		out.Reason = "no rating history found for lead"
		return out, nil
	case 1:
		out.Reason = "at least two history entries are required to roll back"
		return out, nil
	}

	latest := rows[0]
	options := rows[1:]
	out.CanRollback = true
	out.Current = &latest
	out.Options = options
	out.MaxRollbackStep = len(options)

	suggested := options[0]
	if latest.Reason.IsManual() {
		for _, h := range options {
			if h.Reason.IsAutomatic() {
				suggested = h
				break
			}
		}
		out.Recommendation = "roll back to the last system-computed rating"
	} else {
		out.Recommendation = "roll back to the previous stable rating"
	}
	out.Suggested = &suggested
	out.Reason = fmt.Sprintf("current rating %s (%.2f), suggested %s (%.2f)",
		latest.CurrentRating, latest.CurrentScore, suggested.CurrentRating, suggested.CurrentScore)
	return out, nil
}

// RollbackInput identifies the row to re-assert.
type RollbackInput struct {
	LeadID     uuid.UUID
	TargetID   uuid.UUID
	OperatorID *uuid.UUID
	Reason     string
}

// Rollback appends a ROLLBACK row whose current values are the target's.
// The latest row is re-read in the same transaction, so the new row's
// previous values reflect the state at execution time. Intervening rows are
// kept.
func (s *Service) Rollback(ctx context.Context, in RollbackInput) (domain.History, error) {
	const op = "history.Rollback"
	var created domain.History

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		target, err := s.store.GetHistory(ctx, in.TargetID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("rollback target not found").WithOp(op)
		}
		if err != nil {
			return err
		}
		if target.LeadID != in.LeadID {
			return apperr.Validation("rollback target belongs to a different lead").WithOp(op)
		}

		latestRows, err := s.store.LatestHistory(ctx, in.LeadID, 1)
		if err != nil {
			return err
		}
		if len(latestRows) == 0 {
			return apperr.NotFound("lead has no rating history").WithOp(op)
		}
		latest := latestRows[0]
		if latest.ID == target.ID {
			return apperr.Validation("rollback target is already the current rating").WithOp(op)
		}
		if target.RatedAt.After(latest.RatedAt) {
			return apperr.Validation("cannot roll back to a state newer than the current rating").WithOp(op)
		}

		prevScore := latest.CurrentScore
		description := fmt.Sprintf("rolled back to history %s", target.ID)
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			description += ": " + reason
		}
		created, err = s.Record(ctx, RecordInput{
			LeadID:             in.LeadID,
			PreviousRating:     latest.CurrentRating,
			PreviousScore:      &prevScore,
			CurrentRating:      target.CurrentRating,
			CurrentScore:       target.CurrentScore,
			Reason:             domain.ReasonRollback,
			OperatorID:         in.OperatorID,
			Description:        description,
			CalculationDetails: target.CalculationDetails,
			Version:            target.Version,
			ManualAdjustment:   target.ManualAdjustment,
		})
		return err
	})
	if err != nil {
		return domain.History{}, err
	}
	return created, nil
}
