package refund

import (
	"fmt"
	"time"
)

// Status enumerates the refund states the authoritative source may report.
// No transition graph is enforced; whatever the source reports is recorded,
// including reversals.
type Status string

const (
	StatusNotFound   Status = "NOT_FOUND"
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusSent       Status = "SENT"
	StatusAvailable  Status = "AVAILABLE"
	StatusRejected   Status = "REJECTED"
)

// Valid reports whether s is one of the known refund states.
func (s Status) Valid() bool {
	switch s {
	case StatusNotFound, StatusReceived, StatusProcessing, StatusApproved,
		StatusSent, StatusAvailable, StatusRejected:
		return true
	}
	return false
}

// Record is the per-(user, tax year) refund aggregate. It is created lazily on
// first observation and mutated in place on every reconciliation; at most one
// record exists per (user, tax year).
type Record struct {
	ID                   string
	UserID               string
	TaxYear              int
	Status               Status
	ExpectedAmount       float64
	TrackingID           string
	LastUpdatedAt        time.Time
	AvailableAtEstimated *time.Time
}

// StatusEvent is the immutable record of one observed transition. It is the
// system of record for what changed and when.
type StatusEvent struct {
	ID             int64
	UserID         string
	TaxYear        int
	FilingState    string
	OldStatus      Status
	NewStatus      Status
	ExpectedAmount float64
	TrackingID     string
	Source         string
	OccurredAt     time.Time
}

// Snapshot is the response served to callers and stored in the read cache.
type Snapshot struct {
	TaxYear              int        `json:"tax_year"`
	Status               Status     `json:"status"`
	LastUpdatedAt        time.Time  `json:"last_updated_at"`
	ExpectedAmount       float64    `json:"expected_amount"`
	TrackingID           string     `json:"tracking_id"`
	EstimatedAvailableAt *time.Time `json:"estimated_available_at,omitempty"`
}

const (
	// EventSourceIRS tags status events observed through the IRS adapter.
	EventSourceIRS = "IRS"
	// EventTypeStatusChanged is the outbox event type for detected transitions.
	EventTypeStatusChanged = "REFUND_STATUS_CHANGED"
	// SnapshotTTL bounds staleness of cached snapshots.
	SnapshotTTL = 60 * time.Second
)

// CacheKey returns the read-cache key for a user's latest snapshot.
func CacheKey(userID string) string {
	return "refund:latest:" + userID
}

// AggregateKey groups outbox messages belonging to one refund record.
func AggregateKey(userID string, taxYear int) string {
	return fmt.Sprintf("%s:%d", userID, taxYear)
}
