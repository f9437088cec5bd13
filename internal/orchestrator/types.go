package orchestrator

import (
	"time"

	"oracle-orchestrator/internal/gather"
)

// State is one stop in the per-request machine. The happy path runs
// RECEIVED through COMPLETED in order; any state can escape to
// DEGRADED_COMPLETED, which still produces a valid AggregatedResult.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateGatheringContext  State = "GATHERING_CONTEXT"
	StateBlending          State = "BLENDING"
	StateDispatching       State = "DISPATCHING"
	StateAssembling        State = "ASSEMBLING"
	StateCompleted         State = "COMPLETED"
	StateDegradedCompleted State = "DEGRADED_COMPLETED"
)

// RequestDescriptor is the inbound request shape. Opaque to this core
// beyond id, deadline hint, input text, and applicable provider kinds.
type RequestDescriptor struct {
	ID             string   `json:"id"`
	Input          string   `json:"input"`
	DeadlineHintMs int      `json:"deadlineHintMs,omitempty"`
	Kinds          []string `json:"kinds,omitempty"`
}

// RequestContext is the per-request working set. Owned by one coordinator
// run for the life of one request and never reused.
type RequestContext struct {
	RequestID      string
	Deadline       time.Time
	PartialResults map[string]gather.Outcome
	BlendWeights   map[string]float64
}

// AggregatedResult is always produced, even in the worst case, when it
// falls back to the deterministic default content.
type AggregatedResult struct {
	Content               string                 `json:"content"`
	ContributingProviders []string               `json:"contributingProviders"`
	DegradedProviders     []string               `json:"degradedProviders"`
	BlendWeights          map[string]float64     `json:"blendWeights"`
	LatencyMs             int64                  `json:"latencyMs"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}
