// Package history is the append-only audit log of rating changes, with
// reporting queries, retention and rollback.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"
	"lead_rating_engine/platform/sanitize"

	"github.com/google/uuid"
)

const maxBatchErrors = 100

// Service provides business logic for rating history.
type Service struct {
	store     repository.HistoryStore
	tx        repository.Transactor
	operators ports.OperatorDirectory
	log       *logger.Logger
	now       func() time.Time
}

// New creates a history service. operators may be nil, in which case
// operator names are left empty.
func New(store repository.HistoryStore, tx repository.Transactor, operators ports.OperatorDirectory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:     store,
		tx:        tx,
		operators: operators,
		log:       log.WithComponent("rating-history"),
		now:       time.Now,
	}
}

// WithClock replaces the clock used to stamp rows and compute cutoffs.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

// RecordInput describes one rating change.
type RecordInput struct {
	LeadID             uuid.UUID
	PreviousRating     domain.Rating
	PreviousScore      *float64
	CurrentRating      domain.Rating
	CurrentScore       float64
	Reason             domain.ChangeReason
	OperatorID         *uuid.UUID
	Description        string
	CalculationDetails string
	Version            string
	ManualAdjustment   bool
}

// Page is one window of a newest-first listing.
type Page struct {
	Items    []domain.History `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// Record appends a row. Existing rows are never touched.
func (s *Service) Record(ctx context.Context, in RecordInput) (domain.History, error) {
	const op = "history.Record"
	if in.LeadID == uuid.Nil {
		return domain.History{}, apperr.Validation("leadId is required").WithOp(op)
	}
	if !in.CurrentRating.Valid() {
		return domain.History{}, apperr.Validationf("invalid current rating %q", in.CurrentRating).WithOp(op)
	}
	if in.PreviousRating != "" && !in.PreviousRating.Valid() {
		return domain.History{}, apperr.Validationf("invalid previous rating %q", in.PreviousRating).WithOp(op)
	}
	if in.CurrentScore < 0 || in.CurrentScore > 100 {
		return domain.History{}, apperr.Validationf("score must be between 0 and 100, got %.2f", in.CurrentScore).WithOp(op)
	}
	if !in.Reason.Valid() {
		return domain.History{}, apperr.Validationf("invalid change reason %q", in.Reason).WithOp(op)
	}

	row := domain.History{
		LeadID:             in.LeadID,
		PreviousRating:     in.PreviousRating,
		PreviousScore:      in.PreviousScore,
		CurrentRating:      in.CurrentRating,
		CurrentScore:       in.CurrentScore,
		Reason:             in.Reason,
		OperatorID:         in.OperatorID,
		OperatorName:       s.operatorName(ctx, in.OperatorID),
		Description:        sanitize.Text(in.Description),
		CalculationDetails: in.CalculationDetails,
		Version:            in.Version,
		ManualAdjustment:   in.ManualAdjustment,
		RatedAt:            s.now().UTC(),
	}

	saved, err := s.store.AppendHistory(ctx, row)
	if err != nil {
		s.log.DatabaseError(op, err)
		return domain.History{}, err
	}
	s.log.WithContext(ctx).RatingChanged(saved.LeadID.String(), string(saved.PreviousRating),
		string(saved.CurrentRating), string(saved.Reason), saved.CurrentScore)
	return saved, nil
}

func (s *Service) operatorName(ctx context.Context, id *uuid.UUID) string {
	if id == nil || s.operators == nil {
		return ""
	}
	name, err := s.operators.GetOperatorName(ctx, *id)
	if err != nil {
		if !errors.Is(err, ports.ErrOperatorNotFound) {
			s.log.WithContext(ctx).Warn("operator lookup failed", "operator_id", id.String(), "error", err)
		}
		return ""
	}
	return name
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.History, error) {
	h, err := s.store.GetHistory(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.History{}, apperr.NotFound("rating history not found").WithOp("history.Get")
	}
	return h, err
}

// Query lists rows matching filter, newest first.
func (s *Service) Query(ctx context.Context, filter repository.HistoryFilter, page repository.Page) (Page, error) {
	p := page.Normalize()
	items, total, err := s.store.ListHistory(ctx, filter, p)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}

func (s *Service) ListByLead(ctx context.Context, leadID uuid.UUID, page repository.Page) (Page, error) {
	return s.Query(ctx, repository.HistoryFilter{LeadID: &leadID}, page)
}

func (s *Service) ListByReason(ctx context.Context, reason domain.ChangeReason, page repository.Page) (Page, error) {
	if !reason.Valid() {
		return Page{}, apperr.Validationf("invalid change reason %q", reason).WithOp("history.ListByReason")
	}
	return s.Query(ctx, repository.HistoryFilter{Reason: reason}, page)
}

func (s *Service) ListByOperator(ctx context.Context, operatorID uuid.UUID, page repository.Page) (Page, error) {
	return s.Query(ctx, repository.HistoryFilter{OperatorID: &operatorID}, page)
}

func (s *Service) ListByTimeRange(ctx context.Context, start, end time.Time, page repository.Page) (Page, error) {
	if err := checkRange(start, end); err != nil {
		return Page{}, err
	}
	return s.Query(ctx, repository.HistoryFilter{From: &start, To: &end}, page)
}

// ListByRatingChange lists rows that moved from one rating to another.
func (s *Service) ListByRatingChange(ctx context.Context, from, to domain.Rating, page repository.Page) (Page, error) {
	if !from.Valid() || !to.Valid() {
		return Page{}, apperr.Validationf("invalid rating pair %q -> %q", from, to).WithOp("history.ListByRatingChange")
	}
	return s.Query(ctx, repository.HistoryFilter{PreviousRating: from, CurrentRating: to}, page)
}

func (s *Service) ListUpgrades(ctx context.Context, page repository.Page) (Page, error) {
	return s.Query(ctx, repository.HistoryFilter{Direction: domain.DirectionUpgrade}, page)
}

func (s *Service) ListDowngrades(ctx context.Context, page repository.Page) (Page, error) {
	return s.Query(ctx, repository.HistoryFilter{Direction: domain.DirectionDowngrade}, page)
}

func (s *Service) CountByLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	return s.store.CountHistory(ctx, repository.HistoryFilter{LeadID: &leadID})
}

// Latest returns the newest row for leadID.
func (s *Service) Latest(ctx context.Context, leadID uuid.UUID) (domain.History, error) {
	rows, err := s.store.LatestHistory(ctx, leadID, 1)
	if err != nil {
		return domain.History{}, err
	}
	if len(rows) == 0 {
		return domain.History{}, apperr.NotFound("lead has no rating history").WithOp("history.Latest")
	}
	return rows[0], nil
}

// Export returns every row in [start, end], newest first.
func (s *Service) Export(ctx context.Context, start, end time.Time) ([]domain.History, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.store.ListAllHistory(ctx, repository.HistoryFilter{From: &start, To: &end})
}

// DeleteExpired removes rows older than retentionDays.
func (s *Service) DeleteExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, apperr.Validationf("retention must be at least 1 day, got %d", retentionDays).WithOp("history.DeleteExpired")
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := s.store.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		s.log.DatabaseError("history.DeleteExpired", err)
		return 0, err
	}
	s.log.WithContext(ctx).Info("expired rating history purged", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// BatchDeleteResult reports a delete-by-id run.
type BatchDeleteResult struct {
	Total   int      `json:"total"`
	Deleted int      `json:"deleted"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// BatchDelete removes the rows in ids. Unknown ids are reported per item and
// do not stop the others.
func (s *Service) BatchDelete(ctx context.Context, ids []uuid.UUID) (BatchDeleteResult, error) {
	res := BatchDeleteResult{Total: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			res.Failed++
			res.addError(fmt.Sprintf("%s: duplicate id", id))
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.ExistingHistoryIDs(ctx, unique)
		if err != nil {
			return err
		}
		present := make(map[uuid.UUID]bool, len(existing))
		for _, id := range existing {
			present[id] = true
		}
		for _, id := range unique {
			if !present[id] {
				res.Failed++
				res.addError(fmt.Sprintf("%s: not found", id))
			}
		}
		n, err := s.store.DeleteHistoryByIDs(ctx, existing)
		res.Deleted = n
		return err
	})
	if err != nil {
		return BatchDeleteResult{Total: len(ids), Failed: len(ids), Errors: []string{err.Error()}}, err
	}
	return res, nil
}

func (r *BatchDeleteResult) addError(msg string) {
	if len(r.Errors) < maxBatchErrors {
		r.Errors = append(r.Errors, msg)
	}
}

func checkRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start and end are required")
	}
	if end.Before(start) {
		return apperr.Validation("end must not be before start")
	}
	return nil
}
