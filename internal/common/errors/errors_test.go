package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		code      ErrorCode
		retryable bool
	}{
		{
			name:      "validation",
			err:       NewValidationError("id is required"),
			code:      ErrCodeValidationFailed,
			retryable: false,
		},
		{
			name:      "configuration",
			err:       NewConfigurationInvalidError("floors sum to 1.2"),
			code:      ErrCodeConfigurationInvalid,
			retryable: false,
		},
		{
			name:      "provider timeout",
			err:       NewProviderTimeoutError("fire", 120*time.Millisecond),
			code:      ErrCodeProviderTimeout,
			retryable: false,
		},
		{
			name:      "provider failure",
			err:       NewProviderFailureError("fire", stderrors.New("boom")),
			code:      ErrCodeProviderFailure,
			retryable: false,
		},
		{
			name:      "bus dispatch",
			err:       NewBusDispatchError("generation.requested", stderrors.New("handler down")),
			code:      ErrCodeBusDispatchFailed,
			retryable: true,
		},
		{
			name:      "bus publish",
			err:       NewBusPublishError(stderrors.New("bus closed")),
			code:      ErrCodeBusPublishFailed,
			retryable: true,
		},
		{
			name:      "aggregation invariant",
			err:       NewAggregationInvariantError(0.6),
			code:      ErrCodeAggregationInvariant,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.False(t, tt.err.Timestamp.IsZero())
			assert.Contains(t, tt.err.Error(), string(tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeValidationFailed, CodeOf(NewValidationError("x")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))

	wrapped := fmt.Errorf("handling request: %w", NewProviderTimeoutError("fire", time.Second))
	assert.Equal(t, ErrCodeProviderTimeout, CodeOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewBusDispatchError("x", stderrors.New("y"))))
	assert.False(t, IsRetryable(NewValidationError("x")))
	assert.True(t, IsRetryable(stderrors.New("unknown errors retry")))
}

func TestIsFatal(t *testing.T) {
	require.True(t, IsFatal(NewValidationError("x")))
	require.True(t, IsFatal(NewConfigurationInvalidError("x")))
	assert.False(t, IsFatal(NewProviderFailureError("fire", stderrors.New("y"))))
	assert.False(t, IsFatal(stderrors.New("plain")))
}

func TestAggregationInvariantDetails(t *testing.T) {
	err := NewAggregationInvariantError(0.654321)
	assert.Contains(t, err.Details, "0.654321")
}
