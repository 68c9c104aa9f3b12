package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lead_rating_engine/internal/rating/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps rules and history in process memory. It implements
// RuleStore, HistoryStore and Transactor and is safe for concurrent use.
// Transactions are serialized; a failed transaction restores the state
// captured when it began.
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	rules   map[uuid.UUID]domain.Rule
	history []historyRow
	seq     int64
	now     func() time.Time
}

type historyRow struct {
	seq int64
	h   domain.History
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		rules: make(map[uuid.UUID]domain.Rule),
		now:   clock,
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemoryTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	rules := make(map[uuid.UUID]domain.Rule, len(s.rules))
	for k, v := range s.rules {
		rules[k] = v
	}
	history := append([]historyRow(nil), s.history...)
	seq := s.seq
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.rules = rules
		s.history = history
		s.seq = seq
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTxKey struct{}

func inMemoryTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// =============================================================================
// Rules
// =============================================================================

func (s *MemoryStore) GetRule(_ context.Context, id uuid.UUID) (domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return domain.Rule{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRules(_ context.Context, filter RuleFilter) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if filter.EnabledOnly && !r.Enabled {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Method != "" && r.Method != filter.Method {
			continue
		}
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) RuleNameExists(_ context.Context, name string, excludeID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, r := range s.rules {
		if id != excludeID && strings.EqualFold(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MaxSortOrder(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, r := range s.rules {
		if r.SortOrder > max {
			max = r.SortOrder
		}
	}
	return max, nil
}

func (s *MemoryStore) CreateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := s.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *MemoryStore) UpdateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return domain.Rule{}, ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now().UTC()
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *MemoryStore) DeleteRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) SetRulesEnabled(_ context.Context, ids []uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.rules[id]; !ok {
			return ErrNotFound
		}
	}
	now := s.now().UTC()
	for _, id := range ids {
		r := s.rules[id]
		r.Enabled = enabled
		r.UpdatedAt = now
		s.rules[id] = r
	}
	return nil
}

func (s *MemoryStore) UpdateSortOrders(_ context.Context, orders map[uuid.UUID]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range orders {
		if _, ok := s.rules[id]; !ok {
			return ErrNotFound
		}
	}
	now := s.now().UTC()
	for id, order := range orders {
		r := s.rules[id]
		r.SortOrder = order
		r.UpdatedAt = now
		s.rules[id] = r
	}
	return nil
}

func (s *MemoryStore) ReplaceRules(_ context.Context, rules []domain.Rule) ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.rules = make(map[uuid.UUID]domain.Rule, len(rules))
	out := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		s.rules[r.ID] = r
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func sortRules(rules []domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].SortOrder != rules[j].SortOrder {
			return rules[i].SortOrder < rules[j].SortOrder
		}
		return rules[i].Name < rules[j].Name
	})
}

// =============================================================================
// History
// =============================================================================

func (s *MemoryStore) AppendHistory(_ context.Context, h domain.History) (domain.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.Must(uuid.NewV7())
	}
	if h.RatedAt.IsZero() {
		h.RatedAt = s.now().UTC()
	}
	s.seq++
	s.history = append(s.history, historyRow{seq: s.seq, h: h})
	return h, nil
}

func (s *MemoryStore) GetHistory(_ context.Context, id uuid.UUID) (domain.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.history {
		if row.h.ID == id {
			return row.h, nil
		}
	}
	return domain.History{}, ErrNotFound
}

func (s *MemoryStore) ListHistory(_ context.Context, filter HistoryFilter, page Page) ([]domain.History, int, error) {
	matched := s.matching(filter)
	total := len(matched)
	p := page.Normalize()
	start := p.Offset()
	if start >= total {
		return []domain.History{}, total, nil
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListAllHistory(_ context.Context, filter HistoryFilter) ([]domain.History, error) {
	return s.matching(filter), nil
}

func (s *MemoryStore) LatestHistory(_ context.Context, leadID uuid.UUID, limit int) ([]domain.History, error) {
	matched := s.matching(HistoryFilter{LeadID: &leadID})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountHistory(_ context.Context, filter HistoryFilter) (int, error) {
	return len(s.matching(filter)), nil
}

func (s *MemoryStore) ExistingHistoryIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	present := make(map[uuid.UUID]bool, len(s.history))
	for _, row := range s.history {
		present[row.h.ID] = true
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if present[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteHistoryBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	deleted := 0
	for _, row := range s.history {
		if row.h.RatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.history = kept
	return deleted, nil
}

func (s *MemoryStore) DeleteHistoryByIDs(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.history[:0]
	deleted := 0
	for _, row := range s.history {
		if drop[row.h.ID] {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.history = kept
	return deleted, nil
}

func (s *MemoryStore) matching(filter HistoryFilter) []domain.History {
	s.mu.RLock()
	rows := make([]historyRow, 0, len(s.history))
	for _, row := range s.history {
		if matchesHistory(row.h, filter) {
			rows = append(rows, row)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].h.RatedAt.Equal(rows[j].h.RatedAt) {
			return rows[i].h.RatedAt.After(rows[j].h.RatedAt)
		}
		return rows[i].seq > rows[j].seq
	})

	out := make([]domain.History, len(rows))
	for i, row := range rows {
		out[i] = row.h
	}
	return out
}

func matchesHistory(h domain.History, f HistoryFilter) bool {
	if f.LeadID != nil && h.LeadID != *f.LeadID {
		return false
	}
	if f.Reason != "" && h.Reason != f.Reason {
		return false
	}
	if f.OperatorID != nil && (h.OperatorID == nil || *h.OperatorID != *f.OperatorID) {
		return false
	}
	if f.From != nil && h.RatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && h.RatedAt.After(*f.To) {
		return false
	}
	if f.PreviousRating != "" && h.PreviousRating != f.PreviousRating {
		return false
	}
	if f.CurrentRating != "" && h.CurrentRating != f.CurrentRating {
		return false
	}
	if f.Direction != "" && h.Direction() != f.Direction {
		return false
	}
	return true
}
