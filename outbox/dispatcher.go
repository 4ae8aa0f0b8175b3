package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// KindTransient failures leave the message unprocessed for the next poll.
	KindTransient ErrorKind = iota
	// KindDuplicate means the downstream effect already happened; the message
	// is marked processed without retrying.
	KindDuplicate
	// KindNotReady means a known-benign downstream precondition (the ETA
	// model is not trained yet); the message is marked processed without
	// delivery instead of being retried.
	KindNotReady
)

// HandlerError tags a delivery failure so the dispatcher can classify it
// structurally instead of matching message text.
type HandlerError struct {
	Kind ErrorKind
	Msg  string
}

func (e *HandlerError) Error() string { return e.Msg }

// Handler delivers one outbox message to a downstream system.
type Handler interface {
	Handle(ctx context.Context, eventType, aggregateKey string, payload []byte) error
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config bounds the dispatcher's polling behaviour.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher drains the outbox on a fixed cadence. Each message is processed
// in its own transaction so one failure cannot abort or corrupt its siblings,
// and a second dispatcher instance racing on the same message is harmless.
type Dispatcher struct {
	pool        TxBeginner
	repo        Repository
	handler     Handler
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

// NewDispatcher wires a dispatcher. Zero config fields fall back to a 5s
// interval, batches of 50, and an attempts ceiling of 20.
func NewDispatcher(pool TxBeginner, repo Repository, handler Handler, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	return &Dispatcher{
		pool:        pool,
		repo:        repo,
		handler:     handler,
		interval:    cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Printf("outbox_dispatcher_started interval=%s batchSize=%d maxAttempts=%d",
		d.interval, d.batchSize, d.maxAttempts)

	for {
		select {
		case <-ctx.Done():
			log.Printf("outbox_dispatcher_stopped")
			return ctx.Err()
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll drains one batch. Messages are dispatched independently; a failure on
// one is logged and the rest of the batch is still attempted.
func (d *Dispatcher) Poll(ctx context.Context) {
	batch, err := d.repo.FetchUnprocessed(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		log.Printf("outbox_fetch_failed err=%v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	log.Printf("outbox_batch_found size=%d", len(batch))

	for _, msg := range batch {
		if err := d.ProcessOne(ctx, msg.ID); err != nil {
			log.Printf("outbox_process_failed id=%s err=%v", msg.ID, err)
		}
	}
}

// ProcessOne applies the delivery handler to a single message inside its own
// transaction: re-fetch by id, no-op when the message is gone or already
// processed, invoke the handler, classify the outcome, and persist the
// bookkeeping.
func (d *Dispatcher) ProcessOne(ctx context.Context, id string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, err := d.repo.GetForUpdate(ctx, tx, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.ProcessedAt != nil {
		return nil
	}

	if handleErr := d.handler.Handle(ctx, msg.EventType, msg.AggregateKey, msg.Payload); handleErr != nil {
		d.applyFailure(&msg, handleErr)
	} else {
		now := d.now()
		msg.ProcessedAt = &now
		log.Printf("outbox_processed id=%s type=%s key=%s", msg.ID, msg.EventType, msg.AggregateKey)
	}

	if err := d.repo.Update(ctx, tx, msg); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit tx: %w", err)
	}
	return nil
}

func (d *Dispatcher) applyFailure(msg *Message, handleErr error) {
	text := handleErr.Error()
	msg.Attempts++
	msg.LastError = &text

	switch classify(handleErr) {
	case KindDuplicate:
		now := d.now()
		msg.ProcessedAt = &now
		log.Printf("outbox_idempotent_success id=%s reason=%s", msg.ID, text)
	case KindNotReady:
		now := d.now()
		msg.ProcessedAt = &now
		log.Printf("outbox_downstream_not_ready id=%s reason=%s", msg.ID, text)
	default:
		log.Printf("outbox_failed id=%s attempts=%d err=%s", msg.ID, msg.Attempts, text)
	}
}

// classify prefers tagged handler errors and falls back to matching the
// failure text for handlers that cannot tag their errors.
func classify(err error) ErrorKind {
	var tagged *HandlerError
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "already exists"),
		strings.Contains(text, "unique constraint"),
		strings.Contains(text, "duplicate key"):
		return KindDuplicate
	case strings.Contains(text, "model not trained"):
		return KindNotReady
	}
	return KindTransient
}
