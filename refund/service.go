package refund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EndpointLatest is the endpoint name stamped on access-audit rows.
const EndpointLatest = "/api/refund/latest"

// IrsResult carries the authoritative source's view of a user's most recent refund.
type IrsResult struct {
	TaxYear        int
	Status         Status
	ExpectedAmount float64
	TrackingID     string
}

// IrsAdapter is the authoritative refund source. Its failures are fatal to a
// reconciliation and are propagated to the caller unchanged.
type IrsAdapter interface {
	FetchMostRecent(ctx context.Context, userID string) (IrsResult, error)
}

// Cache is the best-effort snapshot store. Every error it returns is absorbed
// by the service; it can never fail a call.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// OutboxWriter enqueues a message inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, eventType, aggregateKey string, payload []byte) error
}

// EtaLookup serves externally computed availability predictions. Absence is a
// normal outcome; failures degrade to absence.
type EtaLookup interface {
	FindLatest(ctx context.Context, userID string, taxYear int, status string) (*time.Time, error)
}

// AuditRecorder persists one access-audit row per read attempt.
type AuditRecorder interface {
	Record(ctx context.Context, userID, endpoint string, success bool, correlationID string) error
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service reconciles the persisted refund record against the authoritative
// source and publishes detected transitions.
type Service struct {
	pool        TxBeginner
	repo        Repository
	irs         IrsAdapter
	cache       Cache
	outbox      OutboxWriter
	eta         EtaLookup
	audit       AuditRecorder
	idGenerator func() string
	now         func() time.Time
	marshal     func(any) ([]byte, error)
}

// NewService wires the reconciliation service. A nil repo defaults to the
// PostgreSQL repository.
func NewService(pool TxBeginner, repo Repository, irs IrsAdapter, cache Cache, outbox OutboxWriter, eta EtaLookup, audit AuditRecorder) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		irs:         irs,
		cache:       cache,
		outbox:      outbox,
		eta:         eta,
		audit:       audit,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		marshal:     json.Marshal,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithMarshal(marshal func(any) ([]byte, error)) *Service {
	s.marshal = marshal
	return s
}

// GetLatestStatus returns the user's current refund snapshot. It tries the
// read cache first; on a miss it fetches the authoritative source, merges the
// result into the stored record, appends a status event and an outbox message
// when the status changed, and refreshes the cache. Exactly one audit row is
// written per call, success or failure.
func (s *Service) GetLatestStatus(ctx context.Context, userID, correlationID string) (snap Snapshot, err error) {
	if userID == "" {
		return Snapshot{}, fmt.Errorf("refund: missing user id")
	}

	defer func() {
		if auditErr := s.audit.Record(ctx, userID, EndpointLatest, err == nil, correlationID); auditErr != nil {
			log.Printf("refund_audit_write_failed userId=%s err=%v", userID, auditErr)
		}
	}()

	key := CacheKey(userID)
	if cached, found, cacheErr := s.cache.Get(ctx, key); cacheErr != nil {
		log.Printf("refund_cache_read_failed userId=%s err=%v", userID, cacheErr)
	} else if found {
		var hit Snapshot
		if unmarshalErr := json.Unmarshal([]byte(cached), &hit); unmarshalErr == nil {
			return hit, nil
		}
		log.Printf("refund_cache_corrupt userId=%s", userID)
	}

	result, err := s.irs.FetchMostRecent(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refund: fetch authoritative status: %w", err)
	}

	record, changed, err := s.reconcile(ctx, userID, result)
	if errors.Is(err, ErrDuplicateRecord) {
		// Two first reads for the same key both missed the row; the loser of
		// the insert race retries and locks the winner's row.
		record, changed, err = s.reconcile(ctx, userID, result)
	}
	if err != nil {
		return Snapshot{}, err
	}

	if changed {
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			log.Printf("refund_cache_invalidate_failed userId=%s err=%v", userID, delErr)
		}
	}

	snap = Snapshot{
		TaxYear:              record.TaxYear,
		Status:               record.Status,
		LastUpdatedAt:        record.LastUpdatedAt,
		ExpectedAmount:       record.ExpectedAmount,
		TrackingID:           record.TrackingID,
		EstimatedAvailableAt: record.AvailableAtEstimated,
	}

	if raw, marshalErr := s.marshal(snap); marshalErr != nil {
		log.Printf("refund_snapshot_marshal_failed userId=%s err=%v", userID, marshalErr)
	} else if setErr := s.cache.Set(ctx, key, string(raw), SnapshotTTL); setErr != nil {
		log.Printf("refund_cache_write_failed userId=%s err=%v", userID, setErr)
	}

	return snap, nil
}

// reconcile merges the authoritative result into the stored record in one
// transaction: load or lazily create the record, capture the pre-merge status,
// and on a transition append a ledger event plus an outbox message.
func (s *Service) reconcile(ctx context.Context, userID string, result IrsResult) (Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, err := s.repo.GetForUpdate(ctx, tx, userID, result.TaxYear)
	if errors.Is(err, ErrRecordNotFound) {
		record = Record{
			ID:            s.idGenerator(),
			UserID:        userID,
			TaxYear:       result.TaxYear,
			Status:        StatusReceived,
			LastUpdatedAt: s.now(),
		}
		if createErr := s.repo.Create(ctx, tx, record); createErr != nil {
			return Record{}, false, createErr
		}
	} else if err != nil {
		return Record{}, false, err
	}

	oldStatus := record.Status
	record.Status = result.Status
	record.ExpectedAmount = result.ExpectedAmount
	record.TrackingID = result.TrackingID
	record.LastUpdatedAt = s.now()

	changed := oldStatus != record.Status
	if changed {
		filingState, fsErr := s.repo.FilingState(ctx, tx, userID)
		if fsErr != nil {
			log.Printf("refund_filing_state_lookup_failed userId=%s err=%v", userID, fsErr)
		}

		event := StatusEvent{
			UserID:         userID,
			TaxYear:        record.TaxYear,
			FilingState:    filingState,
			OldStatus:      oldStatus,
			NewStatus:      record.Status,
			ExpectedAmount: record.ExpectedAmount,
			TrackingID:     record.TrackingID,
			Source:         EventSourceIRS,
			OccurredAt:     s.now(),
		}
		if appendErr := s.repo.AppendEvent(ctx, tx, event); appendErr != nil {
			return Record{}, false, appendErr
		}

		payload := s.eventPayload(event)
		key := AggregateKey(userID, record.TaxYear)
		if enqErr := s.outbox.Enqueue(ctx, tx, EventTypeStatusChanged, key, payload); enqErr != nil {
			return Record{}, false, fmt.Errorf("refund: enqueue outbox message: %w", enqErr)
		}

		log.Printf("refund_status_changed userId=%s taxYear=%d old=%s new=%s",
			userID, record.TaxYear, oldStatus, record.Status)
	}

	if estimate, etaErr := s.eta.FindLatest(ctx, userID, record.TaxYear, string(record.Status)); etaErr != nil {
		log.Printf("refund_eta_lookup_failed userId=%s taxYear=%d err=%v", userID, record.TaxYear, etaErr)
	} else if estimate != nil {
		record.AvailableAtEstimated = estimate
	}

	if saveErr := s.repo.Save(ctx, tx, record); saveErr != nil {
		return Record{}, false, saveErr
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Record{}, false, fmt.Errorf("refund: commit tx: %w", commitErr)
	}

	return record, changed, nil
}

type statusEventPayload struct {
	UserID         string    `json:"user_id"`
	TaxYear        int       `json:"tax_year"`
	Status         Status    `json:"status"`
	OldStatus      Status    `json:"old_status"`
	ExpectedAmount float64   `json:"expected_amount"`
	TrackingID     string    `json:"tracking_id"`
	FilingState    string    `json:"filing_state"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// eventPayload serializes the outbox payload. A marshal failure falls back to
// a minimal hand-built payload so the transition is never silently dropped.
func (s *Service) eventPayload(event StatusEvent) []byte {
	raw, err := s.marshal(statusEventPayload{
		UserID:         event.UserID,
		TaxYear:        event.TaxYear,
		Status:         event.NewStatus,
		OldStatus:      event.OldStatus,
		ExpectedAmount: event.ExpectedAmount,
		TrackingID:     event.TrackingID,
		FilingState:    event.FilingState,
		OccurredAt:     event.OccurredAt,
	})
	if err != nil {
		log.Printf("refund_payload_marshal_failed userId=%s err=%v", event.UserID, err)
		return []byte(fmt.Sprintf(`{"user_id":%q,"tax_year":%d,"status":%q}`,
			event.UserID, event.TaxYear, event.NewStatus))
	}
	return raw
}
