package eta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Prediction is one externally computed availability estimate for a refund.
// Rows are written by the ML pipeline; this service only reads them.
type Prediction struct {
	ID                   int64
	UserID               string
	TaxYear              int
	Status               string
	EtaDays              int
	ModelName            string
	ModelVersion         string
	PredictedAvailableAt time.Time
	CreatedAt            time.Time
}

// PGRepository reads eta_predictions from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed prediction lookup.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindLatest returns the newest predicted availability timestamp for the
// (user, tax year, status) key, or nil when none has been computed yet.
func (r *PGRepository) FindLatest(ctx context.Context, userID string, taxYear int, status string) (*time.Time, error) {
	const q = `
		SELECT predicted_available_at
		FROM eta_predictions
		WHERE user_id = $1 AND tax_year = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ts time.Time
	err := r.pool.QueryRow(ctx, q, userID, taxYear, status).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eta: find latest prediction: %w", err)
	}
	return &ts, nil
}
