package service

import (
	"context"
	"strings"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/scoring"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

// AdjustInput is a manual rating override.
type AdjustInput struct {
	LeadID     uuid.UUID
	Rating     domain.Rating
	Score      float64
	Reason     string
	OperatorID *uuid.UUID
	// Description is stored on the history row. Defaults to Reason.
	Description string
}

// AdjustRating overrides a lead's rating. The score must map to the rating.
// The cached result is evicted before the write and replaced with the
// manual result after commit, so reads serve the override until it expires.
func (s *Service) AdjustRating(ctx context.Context, in AdjustInput) (domain.Result, error) {
	const op = "rating.AdjustRating"

	if !in.Rating.Valid() {
		return domain.Result{}, apperr.Validationf("invalid rating %q", in.Rating).WithOp(op)
	}
	if in.Score < 0 || in.Score > 100 {
		return domain.Result{}, apperr.Validation("score must be between 0 and 100").WithOp(op)
	}
	if got := domain.RatingFromScore(in.Score); got != in.Rating {
		return domain.Result{}, apperr.Validationf("score %.2f maps to rating %s, not %s", in.Score, got, in.Rating).WithOp(op)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return domain.Result{}, apperr.Validation("adjustment reason is required").WithOp(op)
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = reason
	}

	lead, err := s.loadLead(ctx, op, in.LeadID)
	if err != nil {
		return domain.Result{}, err
	}
	if err := s.cache.EvictResult(ctx, lead.ID); err != nil {
		return domain.Result{}, err
	}

	result := domain.Result{
		LeadID:             lead.ID,
		Rating:             in.Rating,
		Score:              in.Score,
		DimensionScores:    map[domain.RuleType]float64{},
		CalculationDetails: "Manual adjustment: " + reason,
		CalculatedAt:       s.now().UTC(),
		Version:            scoring.Version,
		ManualAdjustment:   true,
		AdjustmentReason:   reason,
	}

	var row domain.History
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.leads.UpdateLeadRating(ctx, lead.ID, in.Rating, in.Score); err != nil {
			return mapLeadError(op, err)
		}
		var err error
		row, err = s.history.Record(ctx, history.RecordInput{
			LeadID:             lead.ID,
			PreviousRating:     lead.Rating,
			PreviousScore:      lead.RatingScore,
			CurrentRating:      in.Rating,
			CurrentScore:       in.Score,
			Reason:             domain.ReasonManualAdjustment,
			OperatorID:         in.OperatorID,
			Description:        description,
			CalculationDetails: result.CalculationDetails,
			Version:            result.Version,
			ManualAdjustment:   true,
		})
		return err
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := s.cache.CacheResult(ctx, result); err != nil {
		s.log.WithContext(ctx).CacheError("cache_manual_result", lead.ID.String(), err)
	}
	s.publishChange(ctx, row)
	return result, nil
}

// RollbackInput selects the history row a lead's rating returns to.
type RollbackInput struct {
	LeadID     uuid.UUID
	TargetID   uuid.UUID
	OperatorID *uuid.UUID
	Reason     string
}

// RollbackRating restores the rating recorded by a previous history row.
// The ROLLBACK row and the lead update commit together; the cached result
// is dropped before and after.
func (s *Service) RollbackRating(ctx context.Context, in RollbackInput) (domain.History, error) {
	const op = "rating.RollbackRating"

	if _, err := s.loadLead(ctx, op, in.LeadID); err != nil {
		return domain.History{}, err
	}
	if err := s.cache.EvictResult(ctx, in.LeadID); err != nil {
		return domain.History{}, err
	}

	var row domain.History
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		row, err = s.history.Rollback(ctx, history.RollbackInput{
			LeadID:     in.LeadID,
			TargetID:   in.TargetID,
			OperatorID: in.OperatorID,
			Reason:     in.Reason,
		})
		if err != nil {
			return err
		}
		return mapLeadError(op, s.leads.UpdateLeadRating(ctx, in.LeadID, row.CurrentRating, row.CurrentScore))
	})
	if err != nil {
		return domain.History{}, err
	}

	if err := s.cache.EvictResult(ctx, in.LeadID); err != nil {
		s.log.WithContext(ctx).CacheError("evict_after_rollback", in.LeadID.String(), err)
	}
	s.publishChange(ctx, row)
	return row, nil
}
