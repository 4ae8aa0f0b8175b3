package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRecordNotFound is returned when no refund record exists for the key.
	ErrRecordNotFound = errors.New("refund: record not found")
	// ErrDuplicateRecord is returned when a record for (user, tax year) was
	// created concurrently.
	ErrDuplicateRecord = errors.New("refund: record already exists")
)

// Repository defines the transactional data access the service requires.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID string, taxYear int) (Record, error)
	Create(ctx context.Context, tx pgx.Tx, record Record) error
	Save(ctx context.Context, tx pgx.Tx, record Record) error
	AppendEvent(ctx context.Context, tx pgx.Tx, event StatusEvent) error
	FilingState(ctx context.Context, tx pgx.Tx, userID string) (string, error)
}

// PGRepository implements Repository against PostgreSQL. All methods run in
// the caller's transaction.
type PGRepository struct{}

// NewRepository creates a PostgreSQL-backed refund repository.
func NewRepository() *PGRepository {
	return &PGRepository{}
}

// GetForUpdate loads the record for (user, tax year) and locks the row so
// concurrent reconciliations of the same key serialize on it.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID string, taxYear int) (Record, error) {
	const q = `
		SELECT id, status, expected_amount, tracking_id, last_updated_at, available_at_estimated
		FROM refund_records
		WHERE user_id = $1 AND tax_year = $2
		FOR UPDATE
	`

	record := Record{UserID: userID, TaxYear: taxYear}
	err := tx.QueryRow(ctx, q, userID, taxYear).Scan(
		&record.ID,
		&record.Status,
		&record.ExpectedAmount,
		&record.TrackingID,
		&record.LastUpdatedAt,
		&record.AvailableAtEstimated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("refund: load record: %w", err)
	}
	return record, nil
}

// Create inserts a freshly seeded record.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, record Record) error {
	const q = `
		INSERT INTO refund_records (id, user_id, tax_year, status, expected_amount, tracking_id, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, q,
		record.ID, record.UserID, record.TaxYear, record.Status,
		record.ExpectedAmount, record.TrackingID, record.LastUpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("refund: create record: %w", err)
	}
	return nil
}

// Save persists the merged record state.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, record Record) error {
	const q = `
		UPDATE refund_records
		SET status = $1,
		    expected_amount = $2,
		    tracking_id = $3,
		    last_updated_at = $4,
		    available_at_estimated = $5
		WHERE id = $6
	`
	_, err := tx.Exec(ctx, q,
		record.Status, record.ExpectedAmount, record.TrackingID,
		record.LastUpdatedAt, record.AvailableAtEstimated, record.ID,
	)
	if err != nil {
		return fmt.Errorf("refund: save record: %w", err)
	}
	return nil
}

// AppendEvent writes one row to the append-only status event ledger.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, event StatusEvent) error {
	const q = `
		INSERT INTO refund_status_events
			(user_id, tax_year, filing_state, old_status, new_status, expected_amount, tracking_id, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, q,
		event.UserID, event.TaxYear, event.FilingState, event.OldStatus, event.NewStatus,
		event.ExpectedAmount, event.TrackingID, event.Source, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("refund: append status event: %w", err)
	}
	return nil
}

// FilingState returns the user's filing state for event enrichment.
func (r *PGRepository) FilingState(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	const q = `SELECT filing_state FROM users WHERE id = $1`

	var state string
	if err := tx.QueryRow(ctx, q, userID).Scan(&state); err != nil {
		return "", fmt.Errorf("refund: load filing state: %w", err)
	}
	return state, nil
}
