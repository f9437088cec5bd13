// Package bus implements the in-process event bus: idempotent dispatch,
// retry with capped exponential backoff, and a dead-letter queue with
// operator replay.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted and consumed by the orchestration core.
const (
	TypeGenerationRequested    = "generation.requested"
	TypeGenerationCompleted    = "generation.completed"
	TypeOrchestrationCompleted = "orchestration.completed"
	TypeOrchestrationDegraded  = "orchestration.degraded"
)

// Event is the unit of communication on the bus. Two events sharing an
// IdempotencyKey produce at most one observable side effect.
type Event struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	IdempotencyKey  string                 `json:"idempotencyKey"`
	Payload         map[string]interface{} `json:"payload"`
	SourceComponent string                 `json:"sourceComponent"`
	CreatedAt       time.Time              `json:"createdAt"`
	Attempt         int                    `json:"attempt"`
}

// NewEvent creates an event with a fresh id and attempt 0.
func NewEvent(eventType, idempotencyKey, source string, payload map[string]interface{}) Event {
	return Event{
		ID:              uuid.NewString(),
		Type:            eventType,
		IdempotencyKey:  idempotencyKey,
		Payload:         payload,
		SourceComponent: source,
		CreatedAt:       time.Now().UTC(),
		Attempt:         0,
	}
}

// RecordStatus is the lifecycle state of a ProcessingRecord.
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusDone    RecordStatus = "done"
	StatusFailed  RecordStatus = "failed"
)

// ProcessingRecord tracks per-idempotency-key dispatch state. Owned by the
// bus; mutated only through its dispatch loop.
type ProcessingRecord struct {
	IdempotencyKey string       `json:"idempotencyKey"`
	Status         RecordStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"lastError,omitempty"`
	ProcessedAt    time.Time    `json:"processedAt"`
}

// DeadLetterEntry holds an event that exhausted its retries. Terminal
// unless an operator replays it.
type DeadLetterEntry struct {
	Event          Event     `json:"event"`
	FailureHistory []string  `json:"failureHistory"`
	FirstFailedAt  time.Time `json:"firstFailedAt"`
	LastAttemptAt  time.Time `json:"lastAttemptAt"`
}
