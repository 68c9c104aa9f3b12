package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the Postgres implementation of RuleStore, HistoryStore and
// Transactor. Writes join a transaction started by WithinTx.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func (r *Repository) q(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// =============================================================================
// Rules
// =============================================================================

const ruleColumns = `id, name, rule_type, weight, method, config_params, enabled, sort_order, description, created_at, updated_at`

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		rule   domain.Rule
		typ    string
		method string
		weight decimal.Decimal
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &typ, &weight, &method, &rule.ConfigParams,
		&rule.Enabled, &rule.SortOrder, &rule.Description, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.Type = domain.RuleType(typ)
	rule.Method = domain.CalculationMethod(method)
	rule.Weight = weight
	return rule, nil
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	rule, err := scanRule(r.q(ctx).QueryRow(ctx, `SELECT `+ruleColumns+` FROM rating_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Rule{}, ErrNotFound
	}
	return rule, err
}

func (r *Repository) ListRules(ctx context.Context, filter RuleFilter) ([]domain.Rule, error) {
	var (
		conds []string
		args  []any
	)
	if filter.EnabledOnly {
		conds = append(conds, "enabled = TRUE")
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("rule_type = $%d", len(args)))
	}
	if filter.Method != "" {
		args = append(args, string(filter.Method))
		conds = append(conds, fmt.Sprintf("method = $%d", len(args)))
	}

	query := `SELECT ` + ruleColumns + ` FROM rating_rules`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY sort_order ASC, name ASC`

	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) RuleNameExists(ctx context.Context, name string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM rating_rules WHERE lower(name) = lower($1) AND id <> $2)`,
		name, excludeID,
	).Scan(&exists)
	return exists, err
}

func (r *Repository) MaxSortOrder(ctx context.Context) (int, error) {
	var last int
	err := r.q(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(sort_order), 0) FROM rating_rules`).Scan(&last)
	return last, err
}

func (r *Repository) CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	return scanRule(r.q(ctx).QueryRow(ctx, `
		INSERT INTO rating_rules (id, name, rule_type, weight, method, config_params, enabled, sort_order, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+ruleColumns,
		rule.ID, rule.Name, string(rule.Type), rule.Weight, string(rule.Method), rule.ConfigParams,
		rule.Enabled, rule.SortOrder, rule.Description,
	))
}

func (r *Repository) UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	updated, err := scanRule(r.q(ctx).QueryRow(ctx, `
		UPDATE rating_rules
		SET name = $2, rule_type = $3, weight = $4, method = $5, config_params = $6,
		    enabled = $7, sort_order = $8, description = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+ruleColumns,
		rule.ID, rule.Name, string(rule.Type), rule.Weight, string(rule.Method), rule.ConfigParams,
		rule.Enabled, rule.SortOrder, rule.Description,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Rule{}, ErrNotFound
	}
	return updated, err
}

func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM rating_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetRulesEnabled(ctx context.Context, ids []uuid.UUID, enabled bool) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		tag, err := r.q(ctx).Exec(ctx,
			`UPDATE rating_rules SET enabled = $2, updated_at = now() WHERE id = ANY($1)`,
			ids, enabled,
		)
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != len(uniqueIDs(ids)) {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repository) UpdateSortOrders(ctx context.Context, orders map[uuid.UUID]int) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		for id, order := range orders {
			tag, err := r.q(ctx).Exec(ctx,
				`UPDATE rating_rules SET sort_order = $2, updated_at = now() WHERE id = $1`,
				id, order,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
}

func (r *Repository) ReplaceRules(ctx context.Context, rules []domain.Rule) ([]domain.Rule, error) {
	out := make([]domain.Rule, 0, len(rules))
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.q(ctx).Exec(ctx, `DELETE FROM rating_rules`); err != nil {
			return err
		}
		for _, rule := range rules {
			created, err := r.CreateRule(ctx, rule)
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// =============================================================================
// History
// =============================================================================

const historyColumns = `id, lead_id, previous_rating, previous_score, current_rating, current_score, change_reason,
	operator_id, operator_name, description, calculation_details, engine_version, manual_adjustment, rated_at`

func rankSQL(col string) string {
	return fmt.Sprintf(`(CASE %s WHEN 'A' THEN 4 WHEN 'B' THEN 3 WHEN 'C' THEN 2 WHEN 'D' THEN 1 ELSE 0 END)`, col)
}

func scanHistory(row pgx.Row) (domain.History, error) {
	var (
		h          domain.History
		prevRating *string
		curRating  string
		reason     string
	)
	err := row.Scan(
		&h.ID, &h.LeadID, &prevRating, &h.PreviousScore, &curRating, &h.CurrentScore, &reason,
		&h.OperatorID, &h.OperatorName, &h.Description, &h.CalculationDetails, &h.Version,
		&h.ManualAdjustment, &h.RatedAt,
	)
	if err != nil {
		return domain.History{}, err
	}
	if prevRating != nil {
		h.PreviousRating = domain.Rating(*prevRating)
	}
	h.CurrentRating = domain.Rating(curRating)
	h.Reason = domain.ChangeReason(reason)
	return h, nil
}

func historyWhere(f HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.LeadID != nil {
		add("lead_id = $%d", *f.LeadID)
	}
	if f.Reason != "" {
		add("change_reason = $%d", string(f.Reason))
	}
	if f.OperatorID != nil {
		add("operator_id = $%d", *f.OperatorID)
	}
	if f.From != nil {
		add("rated_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("rated_at <= $%d", *f.To)
	}
	if f.PreviousRating != "" {
		add("previous_rating = $%d", string(f.PreviousRating))
	}
	if f.CurrentRating != "" {
		add("current_rating = $%d", string(f.CurrentRating))
	}
	switch f.Direction {
	case domain.DirectionUpgrade:
		conds = append(conds, "previous_rating IS NOT NULL AND "+rankSQL("current_rating")+" > "+rankSQL("previous_rating"))
	case domain.DirectionDowngrade:
		conds = append(conds, "previous_rating IS NOT NULL AND "+rankSQL("current_rating")+" < "+rankSQL("previous_rating"))
	case domain.DirectionNoChange:
		conds = append(conds, "(previous_rating IS NULL OR "+rankSQL("current_rating")+" = "+rankSQL("previous_rating")+")")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) AppendHistory(ctx context.Context, h domain.History) (domain.History, error) {
	if h.ID == uuid.Nil {
		h.ID = uuid.Must(uuid.NewV7())
	}
	if h.RatedAt.IsZero() {
		h.RatedAt = time.Now().UTC()
	}

	var prevRating *string
	if h.PreviousRating != "" {
		s := string(h.PreviousRating)
		prevRating = &s
	}

	return scanHistory(r.q(ctx).QueryRow(ctx, `
		INSERT INTO rating_history (id, lead_id, previous_rating, previous_score, current_rating, current_score,
			change_reason, operator_id, operator_name, description, calculation_details, engine_version,
			manual_adjustment, rated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+historyColumns,
		h.ID, h.LeadID, prevRating, h.PreviousScore, string(h.CurrentRating), h.CurrentScore,
		string(h.Reason), h.OperatorID, h.OperatorName, h.Description, h.CalculationDetails, h.Version,
		h.ManualAdjustment, h.RatedAt,
	))
}

func (r *Repository) GetHistory(ctx context.Context, id uuid.UUID) (domain.History, error) {
	h, err := scanHistory(r.q(ctx).QueryRow(ctx, `SELECT `+historyColumns+` FROM rating_history WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.History{}, ErrNotFound
	}
	return h, err
}

func (r *Repository) ListHistory(ctx context.Context, filter HistoryFilter, page Page) ([]domain.History, int, error) {
	total, err := r.CountHistory(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	where, args := historyWhere(filter)
	p := page.Normalize()
	args = append(args, p.PageSize, p.Offset())
	query := `SELECT ` + historyColumns + ` FROM rating_history` + where +
		fmt.Sprintf(` ORDER BY rated_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	items, err := r.queryHistory(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListAllHistory(ctx context.Context, filter HistoryFilter) ([]domain.History, error) {
	where, args := historyWhere(filter)
	return r.queryHistory(ctx, `SELECT `+historyColumns+` FROM rating_history`+where+` ORDER BY rated_at DESC, id DESC`, args...)
}

func (r *Repository) LatestHistory(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.History, error) {
	if limit < 1 {
		limit = 1
	}
	return r.queryHistory(ctx, `SELECT `+historyColumns+` FROM rating_history
		WHERE lead_id = $1 ORDER BY rated_at DESC, id DESC LIMIT $2`, leadID, limit)
}

func (r *Repository) CountHistory(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := historyWhere(filter)
	var total int
	err := r.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rating_history`+where, args...).Scan(&total)
	return total, err
}

func (r *Repository) ExistingHistoryIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT id FROM rating_history WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM rating_history WHERE rated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) DeleteHistoryByIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM rating_history WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) queryHistory(ctx context.Context, query string, args ...any) ([]domain.History, error) {
	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.History, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

var (
	_ RuleStore    = (*Repository)(nil)
	_ HistoryStore = (*Repository)(nil)
	_ Transactor   = (*Repository)(nil)
	_ RuleStore    = (*MemoryStore)(nil)
	_ HistoryStore = (*MemoryStore)(nil)
	_ Transactor   = (*MemoryStore)(nil)
)
