// Package repository provides durable storage for rating rules and rating
// history, behind segregated reader/writer interfaces.
package repository

import (
	"context"
	"errors"
	"time"

	"lead_rating_engine/internal/rating/domain"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// RuleFilter narrows ListRules. Zero values match everything.
type RuleFilter struct {
	EnabledOnly bool
	Type        domain.RuleType
	Method      domain.CalculationMethod
}

// RuleReader provides read operations for rating rules. Results are ordered
// by sort order, then name.
type RuleReader interface {
	GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]domain.Rule, error)
	// RuleNameExists compares case-insensitively and skips excludeID.
	RuleNameExists(ctx context.Context, name string, excludeID uuid.UUID) (bool, error)
	MaxSortOrder(ctx context.Context) (int, error)
}

// RuleWriter provides write operations for rating rules.
type RuleWriter interface {
	CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	// SetRulesEnabled fails with ErrNotFound and changes nothing if any id is missing.
	SetRulesEnabled(ctx context.Context, ids []uuid.UUID, enabled bool) error
	// UpdateSortOrders fails with ErrNotFound and changes nothing if any id is missing.
	UpdateSortOrders(ctx context.Context, orders map[uuid.UUID]int) error
	// ReplaceRules deletes every rule and inserts rules.
	ReplaceRules(ctx context.Context, rules []domain.Rule) ([]domain.Rule, error)
}

// RuleStore combines reader and writer.
type RuleStore interface {
	RuleReader
	RuleWriter
}

// HistoryFilter narrows history queries. Nil/zero fields match everything.
type HistoryFilter struct {
	LeadID         *uuid.UUID
	Reason         domain.ChangeReason
	OperatorID     *uuid.UUID
	From           *time.Time
	To             *time.Time
	PreviousRating domain.Rating
	CurrentRating  domain.Rating
	Direction      domain.ChangeDirection
}

// Page selects a window of newest-first rows. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 500
)

// Normalize clamps page and size to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// HistoryReader provides read operations for rating history. Lists are
// newest first (rated_at, then id, both descending).
type HistoryReader interface {
	GetHistory(ctx context.Context, id uuid.UUID) (domain.History, error)
	ListHistory(ctx context.Context, filter HistoryFilter, page Page) ([]domain.History, int, error)
	// ListAllHistory returns every row matching filter without paging.
	ListAllHistory(ctx context.Context, filter HistoryFilter) ([]domain.History, error)
	LatestHistory(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.History, error)
	CountHistory(ctx context.Context, filter HistoryFilter) (int, error)
	// ExistingHistoryIDs returns the subset of ids that exist.
	ExistingHistoryIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// HistoryWriter appends and purges history rows. Existing rows are never updated.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, h domain.History) (domain.History, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteHistoryByIDs(ctx context.Context, ids []uuid.UUID) (int, error)
}

// HistoryStore combines reader and writer.
type HistoryStore interface {
	HistoryReader
	HistoryWriter
}

// Transactor runs fn atomically. Stores that support it make writes issued
// with the ctx passed to fn part of one transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
