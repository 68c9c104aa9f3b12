package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LeadStore reads leads and writes back their rating from the shared leads
// table. Writes join a transaction started through db.RunInTx.
type LeadStore struct {
	pool *pgxpool.Pool
}

// NewLeadStore creates a new lead store adapter.
func NewLeadStore(pool *pgxpool.Pool) *LeadStore {
	return &LeadStore{pool: pool}
}

const leadColumns = `id, company_name, company_type, contact_person, contact_phone, contact_email,
	description, industry_direction, intended_region, registered_capital, investment_amount,
	publisher_reputation, published_at, created_at, rating, rating_score`

// GetLeadByID loads one lead.
func (s *LeadStore) GetLeadByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	var (
		lead        domain.Lead
		capital     decimal.NullDecimal
		investment  decimal.NullDecimal
		publishedAt *time.Time
		rating      *string
	)
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).Scan(
		&lead.ID, &lead.CompanyName, &lead.CompanyType, &lead.ContactPerson, &lead.ContactPhone,
		&lead.ContactEmail, &lead.Description, &lead.IndustryDirection, &lead.IntendedRegion,
		&capital, &investment, &lead.PublisherReputation, &publishedAt, &lead.CreatedAt,
		&rating, &lead.RatingScore,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}
	if capital.Valid {
		lead.RegisteredCapital = capital.Decimal
	}
	if investment.Valid {
		lead.InvestmentAmount = investment.Decimal
	}
	if publishedAt != nil {
		lead.PublishedAt = *publishedAt
	}
	if rating != nil {
		lead.Rating = domain.Rating(*rating)
	}
	return lead, nil
}

// UpdateLeadRating stores the rating and score on the lead.
func (s *LeadStore) UpdateLeadRating(ctx context.Context, id uuid.UUID, rating domain.Rating, score float64) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE leads
		SET rating = $2, rating_score = $3, rating_updated_at = now()
		WHERE id = $1
	`, id, string(rating), decimal.NewFromFloat(score).Round(2))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrLeadNotFound
	}
	return nil
}

// GetLeadIDsByCondition returns the ids of leads matching cond, oldest first.
func (s *LeadStore) GetLeadIDsByCondition(ctx context.Context, cond ports.LeadCondition) ([]uuid.UUID, error) {
	query, args := leadConditionQuery(cond)
	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func leadConditionQuery(cond ports.LeadCondition) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if len(cond.LeadIDs) > 0 {
		add("id = ANY($%d)", cond.LeadIDs)
	}
	ratingConds := make([]string, 0, 2)
	if len(cond.Ratings) > 0 {
		values := make([]string, 0, len(cond.Ratings))
		for _, r := range cond.Ratings {
			values = append(values, string(r))
		}
		args = append(args, values)
		ratingConds = append(ratingConds, fmt.Sprintf("rating = ANY($%d)", len(args)))
	}
	if cond.Unrated {
		ratingConds = append(ratingConds, "rating IS NULL")
	}
	if len(ratingConds) > 0 {
		conds = append(conds, "("+strings.Join(ratingConds, " OR ")+")")
	}
	if cond.MinScore != nil {
		add("rating_score >= $%d", *cond.MinScore)
	}
	if cond.MaxScore != nil {
		add("rating_score <= $%d", *cond.MaxScore)
	}
	if cond.CreatedFrom != nil {
		add("created_at >= $%d", *cond.CreatedFrom)
	}
	if cond.CreatedTo != nil {
		add("created_at < $%d", *cond.CreatedTo)
	}
	if cond.Industry != "" {
		add("industry_direction ILIKE '%%' || $%d || '%%'", cond.Industry)
	}
	if cond.Region != "" {
		add("intended_region ILIKE '%%' || $%d || '%%'", cond.Region)
	}

	query := `SELECT id FROM leads`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if cond.Limit > 0 {
		args = append(args, cond.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return query, args
}

// GetRatingDistribution counts leads per stored rating. Unrated leads are
// counted under the empty rating.
func (s *LeadStore) GetRatingDistribution(ctx context.Context) (map[domain.Rating]int64, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT COALESCE(rating, ''), COUNT(*)
		FROM leads
		GROUP BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Rating]int64)
	for rows.Next() {
		var (
			rating string
			count  int64
		)
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, err
		}
		out[domain.Rating(rating)] = count
	}
	return out, rows.Err()
}

// GetRatingTrend buckets leads rated within [start, end] by the time their
// rating was last written.
func (s *LeadStore) GetRatingTrend(ctx context.Context, start, end time.Time, granularity ports.Granularity) ([]ports.TrendPoint, error) {
	unit, err := truncUnit(granularity)
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT date_trunc($1, rating_updated_at AT TIME ZONE 'UTC') AS period,
		       rating, COUNT(*), COALESCE(AVG(rating_score), 0)::float8
		FROM leads
		WHERE rating IS NOT NULL AND rating_updated_at >= $2 AND rating_updated_at <= $3
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, unit, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]ports.TrendPoint, 0)
	index := make(map[time.Time]int)
	weighted := make(map[time.Time]float64)
	for rows.Next() {
		var (
			period time.Time
			rating string
			count  int64
			avg    float64
		)
		if err := rows.Scan(&period, &rating, &count, &avg); err != nil {
			return nil, err
		}
		period = time.Date(period.Year(), period.Month(), period.Day(), 0, 0, 0, 0, time.UTC)
		i, ok := index[period]
		if !ok {
			i = len(points)
			index[period] = i
			points = append(points, ports.TrendPoint{Period: period, Counts: make(map[domain.Rating]int64)})
		}
		points[i].Counts[domain.Rating(rating)] = count
		points[i].Total += count
		weighted[period] += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range points {
		if points[i].Total > 0 {
			avg := weighted[points[i].Period] / float64(points[i].Total)
			points[i].AverageScore, _ = decimal.NewFromFloat(avg).Round(2).Float64()
		}
	}
	return points, nil
}

func truncUnit(g ports.Granularity) (string, error) {
	switch g {
	case ports.GranularityDay:
		return "day", nil
	case ports.GranularityWeek:
		return "week", nil
	case ports.GranularityMonth:
		return "month", nil
	}
	return "", fmt.Errorf("unsupported granularity %q", g)
}

// Compile-time check.
var _ ports.LeadProvider = (*LeadStore)(nil)
