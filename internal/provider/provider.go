// Package provider defines the adapter boundary between the orchestration
// core and external capabilities (context sources, generation sources,
// terminal synthesis sources).
package provider

import (
	"context"
	"fmt"
	"time"

	"oracle-orchestrator/internal/common/errors"
)

// Kind classifies what a provider contributes to a request.
type Kind string

const (
	KindContext    Kind = "context"
	KindGeneration Kind = "generation"
	KindTerminal   Kind = "terminal"
)

// KnownKinds lists every kind the core recognizes, for validation.
var KnownKinds = []Kind{KindContext, KindGeneration, KindTerminal}

// Request is the payload handed to an adapter invocation. Weights is only
// populated for generation/terminal calls, carrying the blended per-source
// weights computed earlier in the request.
type Request struct {
	RequestID string                 `json:"requestId"`
	Input     string                 `json:"input"`
	Weights   map[string]float64     `json:"weights,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Result is what an adapter returns on success. Score is the provider's
// self-reported raw relevance signal (>= 0) consumed by the blend engine.
type Result struct {
	ProviderID string                 `json:"providerId"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Adapter is the uniform wrapper around any external capability. Implemented
// and owned by integration code; registered with the core at startup.
type Adapter interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	Healthy(ctx context.Context) bool
}

// Descriptor holds the registration-time contract for one provider. It is
// never mutated mid-request; the registry hands out copies.
type Descriptor struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Floor     float64 `json:"floor"`
	Ceiling   float64 `json:"ceiling"`
	Priority  int     `json:"priority"`
	TimeoutMs int     `json:"timeoutMs"`
}

// Timeout returns the per-provider invocation budget.
func (d Descriptor) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Validate checks the single-descriptor invariants.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.NewConfigurationInvalidError("descriptor id is required")
	}
	known := false
	for _, k := range KnownKinds {
		if d.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return errors.NewConfigurationInvalidError(fmt.Sprintf("unknown provider kind %q for %s", d.Kind, d.ID))
	}
	if d.Floor < 0 || d.Ceiling > 1 || d.Floor > d.Ceiling {
		return errors.NewConfigurationInvalidError(
			fmt.Sprintf("provider %s: floor/ceiling must satisfy 0 <= floor <= ceiling <= 1, got [%.4f, %.4f]", d.ID, d.Floor, d.Ceiling))
	}
	if d.TimeoutMs <= 0 {
		return errors.NewConfigurationInvalidError(fmt.Sprintf("provider %s: timeoutMs must be positive", d.ID))
	}
	return nil
}

// Entry pairs a registered descriptor with its adapter.
type Entry struct {
	Descriptor Descriptor
	Adapter    Adapter
}
