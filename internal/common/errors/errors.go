// Package errors provides the standardized error taxonomy for the orchestration core.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Fatal, reported synchronously to the caller.
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"

	// Absorbed into degradation on the request hot path.
	ErrCodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderFailure ErrorCode = "PROVIDER_FAILURE"

	// Handled by the bus retry/dead-letter machinery.
	ErrCodeBusDispatchFailed ErrorCode = "BUS_DISPATCH_FAILED"
	ErrCodeBusPublishFailed  ErrorCode = "BUS_PUBLISH_FAILED"

	// Logged as a warning; the response is still returned, flagged degraded.
	ErrCodeAggregationInvariant ErrorCode = "AGGREGATION_INVARIANT_VIOLATION"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable request validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Malformed request descriptor",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationInvalidError creates a non-retryable registration-time error,
// used when a descriptor set is infeasible (e.g. floors summing above 1).
func NewConfigurationInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigurationInvalid,
		Message:   "Invalid provider configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a degradation-class timeout error.
func NewProviderTimeoutError(providerID string, budget time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   "Provider did not respond within budget",
		Details:   fmt.Sprintf("providerId: %s, budget: %s", providerID, budget),
		Retryable: false,
		Metadata:  map[string]interface{}{"providerId": providerID},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderFailureError creates a degradation-class invocation error.
func NewProviderFailureError(providerID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderFailure,
		Message:   "Provider invocation failed",
		Details:   err.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"providerId": providerID},
		Timestamp: time.Now().UTC(),
	}
}

// NewBusDispatchError creates a retryable handler dispatch error.
func NewBusDispatchError(eventType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBusDispatchFailed,
		Message:   "Event handler failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"eventType": eventType},
		Timestamp: time.Now().UTC(),
	}
}

// NewBusPublishError creates a synchronous publish failure reported to the caller.
func NewBusPublishError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBusPublishFailed,
		Message:   "Event publish failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAggregationInvariantError flags blend weights that could not be
// redistributed to sum to 1 (all providers pinned).
func NewAggregationInvariantError(sum float64) *StandardError {
	return &StandardError{
		Code:      ErrCodeAggregationInvariant,
		Message:   "Blended weights do not sum to 1",
		Details:   fmt.Sprintf("sum: %.6f", sum),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Inspection Helpers
// ==========================

// CodeOf extracts the ErrorCode from any error, or ErrCodeInternal when
// the error is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the bus should retry; unknown errors are
// treated as retryable so transient faults are not dead-lettered early.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// IsFatal reports whether the error crosses the core boundary to the caller.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidationFailed, ErrCodeConfigurationInvalid:
		return true
	}
	return false
}
