package adapters

import (
	"context"
	"errors"

	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OperatorDirectory resolves operator display names from the operators table.
type OperatorDirectory struct {
	pool *pgxpool.Pool
}

// NewOperatorDirectory creates a new operator directory adapter.
func NewOperatorDirectory(pool *pgxpool.Pool) *OperatorDirectory {
	return &OperatorDirectory{pool: pool}
}

// GetOperatorName returns the operator's display name.
func (d *OperatorDirectory) GetOperatorName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `SELECT display_name FROM operators WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ports.ErrOperatorNotFound
	}
	return name, err
}

// Compile-time check.
var _ ports.OperatorDirectory = (*OperatorDirectory)(nil)
