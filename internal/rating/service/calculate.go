package service

import (
	"context"
	"errors"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/history"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
)

// CalculateRating returns the cached result for lead when one exists.
// Otherwise it scores the lead against the enabled rules, caches the result
// and, when the rating or score differs from what the lead has stored,
// writes the new values back and appends a SYSTEM_AUTO history row.
// Concurrent calls for the same lead share one computation.
func (s *Service) CalculateRating(ctx context.Context, lead domain.Lead) (domain.Result, error) {
	if lead.ID == uuid.Nil {
		return domain.Result{}, apperr.Validation("lead id is required").WithOp("rating.CalculateRating")
	}
	if cached, ok := s.cache.GetResult(ctx, lead.ID); ok {
		return cached, nil
	}

	v, err, _ := s.flight.Do(lead.ID.String(), func() (any, error) {
		// The result is shared by every waiter, so the first caller's
		// cancellation must not fail the others.
		fctx := context.WithoutCancel(ctx)
		// Another caller may have finished while this one waited on the cache.
		if cached, ok := s.cache.GetResult(fctx, lead.ID); ok {
			return cached, nil
		}
		return s.computeAndPersist(fctx, lead, domain.ReasonSystemAuto, nil, false)
	})
	if err != nil {
		return domain.Result{}, err
	}
	return v.(domain.Result), nil
}

// CalculateRatingByID loads the lead and calculates its rating.
func (s *Service) CalculateRatingByID(ctx context.Context, leadID uuid.UUID) (domain.Result, error) {
	lead, err := s.loadLead(ctx, "rating.CalculateRatingByID", leadID)
	if err != nil {
		return domain.Result{}, err
	}
	return s.CalculateRating(ctx, lead)
}

// RecalculateRating drops the cached result, recomputes it and always
// records a history row with reason, even when nothing changed.
func (s *Service) RecalculateRating(ctx context.Context, leadID uuid.UUID, reason domain.ChangeReason, operatorID *uuid.UUID) (domain.Result, error) {
	const op = "rating.RecalculateRating"
	if !reason.Valid() {
		return domain.Result{}, apperr.Validationf("invalid change reason %q", reason).WithOp(op)
	}
	lead, err := s.loadLead(ctx, op, leadID)
	if err != nil {
		return domain.Result{}, err
	}
	if err := s.cache.EvictResult(ctx, leadID); err != nil {
		return domain.Result{}, err
	}
	return s.computeAndPersist(ctx, lead, reason, operatorID, true)
}

// PreviewRating scores lead against the enabled rules without caching,
// persisting or publishing anything.
func (s *Service) PreviewRating(ctx context.Context, lead domain.Lead) (domain.Result, error) {
	enabled, err := s.enabledRules(ctx, "rating.PreviewRating")
	if err != nil {
		return domain.Result{}, err
	}
	return s.scorer.Compute(lead, enabled), nil
}

// computeAndPersist scores lead, caches the result and writes changes back.
// With always set a history row is appended even when the values match.
func (s *Service) computeAndPersist(ctx context.Context, lead domain.Lead, reason domain.ChangeReason, operatorID *uuid.UUID, always bool) (domain.Result, error) {
	enabled, err := s.enabledRules(ctx, "rating.calculate")
	if err != nil {
		return domain.Result{}, err
	}
	return s.scoreAndPersist(ctx, lead, enabled, reason, operatorID, always)
}

func (s *Service) scoreAndPersist(ctx context.Context, lead domain.Lead, enabled []domain.Rule, reason domain.ChangeReason, operatorID *uuid.UUID, always bool) (domain.Result, error) {
	result := s.scorer.Compute(lead, enabled)

	if always || lead.RatingDiffers(result.Rating, result.Score) {
		if err := s.persist(ctx, lead, result, reason, operatorID); err != nil {
			return domain.Result{}, err
		}
	}

	if err := s.cache.CacheResult(ctx, result); err != nil {
		s.log.WithContext(ctx).CacheError("cache_result", lead.ID.String(), err)
	}
	return result, nil
}

// persist writes the result to the lead and appends the matching history
// row in one transaction, then publishes the change.
func (s *Service) persist(ctx context.Context, lead domain.Lead, result domain.Result, reason domain.ChangeReason, operatorID *uuid.UUID) error {
	var row domain.History
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.leads.UpdateLeadRating(ctx, lead.ID, result.Rating, result.Score); err != nil {
			return mapLeadError("rating.persist", err)
		}
		var err error
		row, err = s.history.Record(ctx, history.RecordInput{
			LeadID:             lead.ID,
			PreviousRating:     lead.Rating,
			PreviousScore:      lead.RatingScore,
			CurrentRating:      result.Rating,
			CurrentScore:       result.Score,
			Reason:             reason,
			OperatorID:         operatorID,
			CalculationDetails: result.CalculationDetails,
			Version:            result.Version,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.publishChange(ctx, row)
	return nil
}

func (s *Service) enabledRules(ctx context.Context, op string) ([]domain.Rule, error) {
	enabled, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		return nil, apperr.Validation("no enabled rating rules").WithOp(op)
	}
	return enabled, nil
}

func (s *Service) loadLead(ctx context.Context, op string, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.leads.GetLeadByID(ctx, id)
	if err != nil {
		return domain.Lead{}, mapLeadError(op, err)
	}
	return lead, nil
}

func mapLeadError(op string, err error) error {
	if errors.Is(err, ports.ErrLeadNotFound) {
		return apperr.NotFound("lead not found").WithOp(op)
	}
	return err
}
