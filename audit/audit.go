package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AccessRecord captures one refund read attempt, success or failure. Rows are
// append-only and never mutated.
type AccessRecord struct {
	ID            int64
	UserID        string
	Endpoint      string
	Success       bool
	OccurredAt    time.Time
	CorrelationID string
}

// PGRecorder appends access-audit rows to PostgreSQL.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewRecorder creates a PostgreSQL-backed audit recorder.
func NewRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record appends one audit row. It runs on its own connection, outside any
// caller transaction, so it can outlive a failed reconciliation.
func (r *PGRecorder) Record(ctx context.Context, userID, endpoint string, success bool, correlationID string) error {
	const q = `
		INSERT INTO refund_access_audit (user_id, endpoint, success, correlation_id)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, q, userID, endpoint, success, correlationID); err != nil {
		return fmt.Errorf("audit: record access: %w", err)
	}
	return nil
}
