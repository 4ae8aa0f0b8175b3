package outbox

import "time"

// Message is one durable outbound delivery, created in the same transaction
// as the state change it announces and drained asynchronously. A message is
// unprocessed while ProcessedAt is nil; Attempts counts every delivery
// attempt, including ones classified as idempotent successes.
type Message struct {
	ID           string
	EventType    string
	AggregateKey string
	Payload      []byte
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	Attempts     int
	LastError    *string
}
