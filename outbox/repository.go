package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMessageNotFound is returned when no message exists for the id.
var ErrMessageNotFound = errors.New("outbox: message not found")

// Repository defines the data access the dispatcher requires.
type Repository interface {
	FetchUnprocessed(ctx context.Context, batchSize, maxAttempts int) ([]Message, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Message, error)
	Update(ctx context.Context, tx pgx.Tx, msg Message) error
}

// PGRepository implements Repository against PostgreSQL. Enqueue runs in the
// caller's transaction so a message is only durable together with the state
// change that produced it.
type PGRepository struct {
	pool        *pgxpool.Pool
	idGenerator func() string
	now         func() time.Time
}

// NewRepository creates a PostgreSQL-backed outbox repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{
		pool:        pool,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (r *PGRepository) WithIDGenerator(gen func() string) *PGRepository {
	r.idGenerator = gen
	return r
}

// Enqueue inserts a new unprocessed message in the caller's transaction.
func (r *PGRepository) Enqueue(ctx context.Context, tx pgx.Tx, eventType, aggregateKey string, payload []byte) error {
	const q = `
		INSERT INTO outbox_messages (id, event_type, aggregate_key, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`
	if _, err := tx.Exec(ctx, q, r.idGenerator(), eventType, aggregateKey, payload, r.now()); err != nil {
		return fmt.Errorf("outbox: enqueue message: %w", err)
	}
	return nil
}

// FetchUnprocessed returns the oldest unprocessed messages still below the
// attempts ceiling. Messages at or above the ceiling are permanently stalled
// and excluded from polling.
func (r *PGRepository) FetchUnprocessed(ctx context.Context, batchSize, maxAttempts int) ([]Message, error) {
	const q = `
		SELECT id, event_type, aggregate_key, payload, created_at, processed_at, attempts, last_error
		FROM outbox_messages
		WHERE processed_at IS NULL AND attempts < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, q, maxAttempts, batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch unprocessed: %w", err)
	}
	defer rows.Close()

	var batch []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.EventType, &msg.AggregateKey, &msg.Payload,
			&msg.CreatedAt, &msg.ProcessedAt, &msg.Attempts, &msg.LastError); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: fetch unprocessed: %w", err)
	}
	return batch, nil
}

// GetForUpdate re-fetches a message by id and locks the row for the duration
// of the caller's transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Message, error) {
	const q = `
		SELECT id, event_type, aggregate_key, payload, created_at, processed_at, attempts, last_error
		FROM outbox_messages
		WHERE id = $1
		FOR UPDATE
	`

	var msg Message
	err := tx.QueryRow(ctx, q, id).Scan(&msg.ID, &msg.EventType, &msg.AggregateKey, &msg.Payload,
		&msg.CreatedAt, &msg.ProcessedAt, &msg.Attempts, &msg.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("outbox: load message: %w", err)
	}
	return msg, nil
}

// Update persists the delivery bookkeeping for one message.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, msg Message) error {
	const q = `
		UPDATE outbox_messages
		SET processed_at = $1, attempts = $2, last_error = $3
		WHERE id = $4
	`
	if _, err := tx.Exec(ctx, q, msg.ProcessedAt, msg.Attempts, msg.LastError, msg.ID); err != nil {
		return fmt.Errorf("outbox: update message: %w", err)
	}
	return nil
}
