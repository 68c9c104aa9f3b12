// Package rules manages the scoring rule set: CRUD, validation, ordering,
// import/export and the canonical defaults.
package rules

import (
	"context"
	"errors"
	"strings"
	"time"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/repository"
	"lead_rating_engine/platform/apperr"
	"lead_rating_engine/platform/logger"
	"lead_rating_engine/platform/sanitize"
	"lead_rating_engine/platform/validator"

	"github.com/google/uuid"
)

// Rule change actions carried by events.RatingRulesChanged.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionEnabled   = "enabled"
	ActionDisabled  = "disabled"
	ActionReordered = "reordered"
	ActionImported  = "imported"
	ActionReset     = "reset"
)

var ruleFilterAll = repository.RuleFilter{}

// RuleCache is the slice of the cache layer the rule store uses. Entries
// are keyed by rule-set generation; ClearRuleConfigs advances it.
type RuleCache interface {
	RuleGeneration(ctx context.Context) (int64, bool)
	RulesAt(ctx context.Context, generation int64) ([]domain.Rule, bool)
	CacheRules(ctx context.Context, generation int64, rules []domain.Rule) error
	ClearRuleConfigs(ctx context.Context) (int64, error)
}

// SaveResult is a persisted rule plus the advisory findings of validation.
type SaveResult struct {
	Rule        domain.Rule `json:"rule"`
	Warnings    []string    `json:"warnings,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

// Service provides business logic for rating rules.
type Service struct {
	store    repository.RuleStore
	tx       repository.Transactor
	cache    RuleCache
	eventBus events.Bus
	val      *validator.Validator
	log      *logger.Logger
}

// New creates a rule service. cache and eventBus may be nil.
func New(store repository.RuleStore, tx repository.Transactor, cache RuleCache, eventBus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:    store,
		tx:       tx,
		cache:    cache,
		eventBus: eventBus,
		val:      newRuleValidator(),
		log:      log.WithComponent("rating-rules"),
	}
}

func normalizeInput(in RuleInput) RuleInput {
	in.Name = sanitize.Name(in.Name)
	in.Description = sanitize.Text(in.Description)
	in.ConfigParams = strings.TrimSpace(in.ConfigParams)
	in.Type = domain.RuleType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	in.Method = domain.CalculationMethod(strings.ToUpper(strings.TrimSpace(string(in.Method))))
	return in
}

func validationFailure(op string, res ValidationResult) error {
	return apperr.Validation(strings.Join(res.Errors, "; ")).WithOp(op).WithDetails(res)
}

func mapStoreErr(op, what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(what + " not found").WithOp(op)
	}
	return err
}

// Create validates and stores a new rule. A zero sort order places the rule
// last; a nil Enabled means enabled.
func (s *Service) Create(ctx context.Context, in RuleInput) (SaveResult, error) {
	const op = "rules.Create"
	in = normalizeInput(in)
	res := s.checkFields(in)
	if !res.Valid() {
		return SaveResult{}, validationFailure(op, res)
	}

	var created domain.Rule
	err := s.mutate(ctx, ActionCreated, func(ctx context.Context) ([]uuid.UUID, error) {
		if err := s.ensureNameFree(ctx, op, in.Name, uuid.Nil); err != nil {
			return nil, err
		}
		rule := ruleFromInput(in)
		if rule.SortOrder == 0 {
			last, err := s.store.MaxSortOrder(ctx)
			if err != nil {
				return nil, err
			}
			rule.SortOrder = last + 1
		}
		var err error
		created, err = s.store.CreateRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		return []uuid.UUID{created.ID}, nil
	})
	if err != nil {
		return SaveResult{}, err
	}

	return SaveResult{Rule: created, Warnings: res.Warnings, Suggestions: res.Suggestions}, nil
}

// Update replaces the writable fields of rule id. A zero sort order keeps
// the current position; a nil Enabled keeps the current state.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in RuleInput) (SaveResult, error) {
	const op = "rules.Update"
	in = normalizeInput(in)
	res := s.checkFields(in)
	if !res.Valid() {
		return SaveResult{}, validationFailure(op, res)
	}

	var updated domain.Rule
	err := s.mutate(ctx, ActionUpdated, func(ctx context.Context) ([]uuid.UUID, error) {
		existing, err := s.store.GetRule(ctx, id)
		if err != nil {
			return nil, mapStoreErr(op, "rule", err)
		}
		if err := s.ensureNameFree(ctx, op, in.Name, id); err != nil {
			return nil, err
		}
		rule := ruleFromInput(in)
		rule.ID = id
		rule.CreatedAt = existing.CreatedAt
		if in.Enabled == nil {
			rule.Enabled = existing.Enabled
		}
		if in.SortOrder == 0 {
			rule.SortOrder = existing.SortOrder
		}
		updated, err = s.store.UpdateRule(ctx, rule)
		if err != nil {
			return nil, mapStoreErr(op, "rule", err)
		}
		return []uuid.UUID{id}, nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Rule: updated, Warnings: res.Warnings, Suggestions: res.Suggestions}, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, ActionDeleted, func(ctx context.Context) ([]uuid.UUID, error) {
		if err := s.store.DeleteRule(ctx, id); err != nil {
			return nil, mapStoreErr("rules.Delete", "rule", err)
		}
		return []uuid.UUID{id}, nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return domain.Rule{}, mapStoreErr("rules.Get", "rule", err)
	}
	return rule, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Rule, error) {
	return s.store.ListRules(ctx, ruleFilterAll)
}

// ListEnabled returns the enabled rules, read through the rule-config cache.
// The generation is taken before the store read, so a rule change that
// commits meanwhile leaves the cached copy under a generation nobody reads.
func (s *Service) ListEnabled(ctx context.Context) ([]domain.Rule, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		gen, cacheable = s.cache.RuleGeneration(ctx)
	}
	if cacheable {
		if rules, ok := s.cache.RulesAt(ctx, gen); ok {
			return rules, nil
		}
	}
	rules, err := s.store.ListRules(ctx, repository.RuleFilter{EnabledOnly: true})
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.cache.CacheRules(ctx, gen, rules); err != nil {
			s.log.WithContext(ctx).Warn("failed to cache enabled rules", "error", err)
		}
	}
	return rules, nil
}

// ListEnabledFresh bypasses the cache.
func (s *Service) ListEnabledFresh(ctx context.Context) ([]domain.Rule, error) {
	return s.store.ListRules(ctx, repository.RuleFilter{EnabledOnly: true})
}

func (s *Service) ListByType(ctx context.Context, t domain.RuleType) ([]domain.Rule, error) {
	if !t.Valid() {
		return nil, apperr.Validationf("unknown rule type %q", t).WithOp("rules.ListByType")
	}
	return s.store.ListRules(ctx, repository.RuleFilter{Type: t})
}

func (s *Service) ListByMethod(ctx context.Context, m domain.CalculationMethod) ([]domain.Rule, error) {
	if !m.Valid() {
		return nil, apperr.Validationf("unknown calculation method %q", m).WithOp("rules.ListByMethod")
	}
	return s.store.ListRules(ctx, repository.RuleFilter{Method: m})
}

func (s *Service) Enable(ctx context.Context, id uuid.UUID) error {
	return s.BatchSetEnabled(ctx, []uuid.UUID{id}, true)
}

func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	return s.BatchSetEnabled(ctx, []uuid.UUID{id}, false)
}

// BatchSetEnabled changes every rule in ids or none of them.
func (s *Service) BatchSetEnabled(ctx context.Context, ids []uuid.UUID, enabled bool) error {
	if len(ids) == 0 {
		return apperr.Validation("no rule ids given").WithOp("rules.BatchSetEnabled")
	}
	action := ActionDisabled
	if enabled {
		action = ActionEnabled
	}
	return s.mutate(ctx, action, func(ctx context.Context) ([]uuid.UUID, error) {
		if err := s.store.SetRulesEnabled(ctx, ids, enabled); err != nil {
			return nil, mapStoreErr("rules.BatchSetEnabled", "one or more rules", err)
		}
		return ids, nil
	})
}

func (s *Service) UpdateSortOrder(ctx context.Context, id uuid.UUID, order int) error {
	return s.BatchUpdateSortOrder(ctx, map[uuid.UUID]int{id: order})
}

// BatchUpdateSortOrder applies every order in orders or none of them.
func (s *Service) BatchUpdateSortOrder(ctx context.Context, orders map[uuid.UUID]int) error {
	const op = "rules.BatchUpdateSortOrder"
	if len(orders) == 0 {
		return apperr.Validation("no sort orders given").WithOp(op)
	}
	ids := make([]uuid.UUID, 0, len(orders))
	for id, order := range orders {
		if order < 1 {
			return apperr.Validationf("sortOrder must be at least 1, got %d", order).WithOp(op)
		}
		ids = append(ids, id)
	}
	return s.mutate(ctx, ActionReordered, func(ctx context.Context) ([]uuid.UUID, error) {
		if err := s.store.UpdateSortOrders(ctx, orders); err != nil {
			return nil, mapStoreErr(op, "one or more rules", err)
		}
		return ids, nil
	})
}

// ResetToDefaults replaces the whole rule set with the canonical rules.
func (s *Service) ResetToDefaults(ctx context.Context) ([]domain.Rule, error) {
	var out []domain.Rule
	err := s.mutate(ctx, ActionReset, func(ctx context.Context) ([]uuid.UUID, error) {
		var err error
		out, err = s.store.ReplaceRules(ctx, domain.DefaultRules())
		if err != nil {
			return nil, err
		}
		return ruleIDs(out), nil
	})
	return out, err
}

// ConfigTemplate returns the canonical configParams document for t.
func (s *Service) ConfigTemplate(t domain.RuleType) (string, error) {
	if !t.Valid() {
		return "", apperr.Validationf("unknown rule type %q", t).WithOp("rules.ConfigTemplate")
	}
	return domain.ConfigTemplate(t), nil
}

// Copy stores a disabled duplicate of rule id under newName, placed last.
func (s *Service) Copy(ctx context.Context, id uuid.UUID, newName string) (SaveResult, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	in := InputFromRule(src)
	in.Name = newName
	disabled := false
	in.Enabled = &disabled
	in.SortOrder = 0
	return s.Create(ctx, in)
}

func (s *Service) ensureNameFree(ctx context.Context, op, name string, selfID uuid.UUID) error {
	exists, err := s.store.RuleNameExists(ctx, name, selfID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("a rule named \"" + name + "\" already exists").WithOp(op)
	}
	return nil
}

// mutate runs fn in a transaction with the rule-config cache invalidated on
// both sides of the commit, then announces the change. A failed eviction
// before the write aborts it; after the commit it is only logged.
func (s *Service) mutate(ctx context.Context, action string, fn func(ctx context.Context) ([]uuid.UUID, error)) error {
	if err := s.invalidate(ctx); err != nil {
		return err
	}

	var ids []uuid.UUID
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ids, err = fn(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.invalidate(ctx); err != nil {
		s.log.WithContext(ctx).Warn("rule cache eviction after commit failed", "action", action, "error", err)
	}
	s.publish(ctx, action, ids)
	return nil
}

func (s *Service) publish(ctx context.Context, action string, ids []uuid.UUID) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(ctx, events.RatingRulesChanged{
		BaseEvent: events.NewBaseEvent(),
		Action:    action,
		RuleIDs:   ids,
	})
}

func (s *Service) invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	_, err := s.cache.ClearRuleConfigs(ctx)
	return err
}

func ruleFromInput(in RuleInput) domain.Rule {
	rule := domain.Rule{
		Name:         in.Name,
		Type:         in.Type,
		Method:       in.Method,
		ConfigParams: in.ConfigParams,
		Enabled:      true,
		SortOrder:    in.SortOrder,
		Description:  in.Description,
	}
	if in.Weight != nil {
		rule.Weight = *in.Weight
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	return rule
}

func ruleIDs(rules []domain.Rule) []uuid.UUID {
	ids := make([]uuid.UUID, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

// lastUpdated returns the most recent UpdatedAt, or the zero time.
func lastUpdated(rules []domain.Rule) time.Time {
	var latest time.Time
	for _, r := range rules {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}
