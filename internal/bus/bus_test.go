package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-orchestrator/internal/common/logger"
)

func newTestBus(t *testing.T, maxRetries int) *Bus {
	t.Helper()
	b := New(Options{
		MaxRetries:  maxRetries,
		BackoffBase: 1 * time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		Logger:      logger.NewTestLogger(t),
	})
	t.Cleanup(b.Close)
	return b
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func TestPublish_ValidationErrors(t *testing.T) {
	b := newTestBus(t, 3)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "missing type",
			event: Event{IdempotencyKey: "k1"},
		},
		{
			name:  "missing idempotency key",
			event: Event{Type: "generation.requested"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Publish(context.Background(), tt.event)
			assert.Error(t, err)
		})
	}
}

func TestPublish_AssignsEventID(t *testing.T) {
	b := newTestBus(t, 3)

	id, err := b.Publish(context.Background(), NewEvent("test.event", "key-1", "test", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestIdempotency_SameKeyProcessedOnce(t *testing.T) {
	b := newTestBus(t, 3)

	var effects atomic.Int64
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		effects.Add(1)
		return nil
	})

	const n = 10
	for i := 0; i < n; i++ {
		_, err := b.Publish(context.Background(), NewEvent("test.event", "same-key", "test", nil))
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return effects.Load() >= 1 }, time.Second, "handler never ran")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), effects.Load(), "same idempotency key must produce exactly one side effect")
}

func TestIdempotency_DistinctKeysAllProcessed(t *testing.T) {
	b := newTestBus(t, 3)

	var effects atomic.Int64
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		effects.Add(1)
		return nil
	})

	for _, key := range []string{"a", "b", "c"} {
		_, err := b.Publish(context.Background(), NewEvent("test.event", key, "test", nil))
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return effects.Load() == 3 }, time.Second, "expected 3 effects")
}

func TestConcurrentDuplicates_AtMostOneInFlight(t *testing.T) {
	b := newTestBus(t, 0)

	var inFlight atomic.Int64
	var maxInFlight atomic.Int64
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Publish(context.Background(), NewEvent("test.event", "hot-key", "test", nil))
		}()
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(1), "concurrent deliveries for one key must not overlap")
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	b := newTestBus(t, 3)

	var calls atomic.Int64
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	_, err := b.Publish(context.Background(), NewEvent("test.event", "retry-key", "test", nil))
	require.NoError(t, err)

	waitFor(t, func() bool { return calls.Load() == 3 }, time.Second, "expected 2 failures then success")

	rec, err := b.processing.Get(context.Background(), "retry-key")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusDone, rec.Status)
}

func TestDeadLetter_RoundTrip(t *testing.T) {
	b := newTestBus(t, 2)

	var calls atomic.Int64
	handlerErr := errors.New("permanent failure")
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		calls.Add(1)
		return handlerErr
	})

	ev := NewEvent("test.event", "doomed-key", "test", map[string]interface{}{"n": 1})
	_, err := b.Publish(context.Background(), ev)
	require.NoError(t, err)

	// 1 initial attempt + 2 retries, then dead-lettered.
	waitFor(t, func() bool {
		entries, _ := b.ListDeadLetters(context.Background())
		return len(entries) == 1
	}, 2*time.Second, "event never reached the DLQ")

	assert.Equal(t, int64(3), calls.Load())

	entries, err := b.ListDeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "doomed-key", entry.Event.IdempotencyKey)
	assert.Len(t, entry.FailureHistory, 3)
	assert.False(t, entry.FirstFailedAt.IsZero())
	assert.False(t, entry.LastAttemptAt.IsZero())
}

func TestReplay_FreshAttemptSameKey(t *testing.T) {
	b := newTestBus(t, 1)

	var fail atomic.Bool
	fail.Store(true)
	var lastAttempt atomic.Int64
	lastAttempt.Store(-1)
	b.Subscribe("test.event", func(_ context.Context, ev Event) error {
		lastAttempt.Store(int64(ev.Attempt))
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	original := NewEvent("test.event", "replay-key", "test", nil)
	_, err := b.Publish(context.Background(), original)
	require.NoError(t, err)

	waitFor(t, func() bool {
		entries, _ := b.ListDeadLetters(context.Background())
		return len(entries) == 1
	}, 2*time.Second, "event never dead-lettered")

	entries, _ := b.ListDeadLetters(context.Background())
	deadID := entries[0].Event.ID

	// Recover the handler, then replay.
	fail.Store(false)
	newID, err := b.Replay(context.Background(), deadID)
	require.NoError(t, err)
	assert.NotEqual(t, deadID, newID, "replay must use a fresh event id")

	waitFor(t, func() bool {
		rec, _ := b.processing.Get(context.Background(), "replay-key")
		return rec != nil && rec.Status == StatusDone
	}, 2*time.Second, "replayed event never completed")

	assert.Equal(t, int64(0), lastAttempt.Load(), "replay must reset the attempt counter")

	remaining, err := b.ListDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining, "replayed entry must leave the DLQ")
}

func TestReplay_FailedPublishKeepsDeadLetter(t *testing.T) {
	b := newTestBus(t, 1)

	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		return errors.New("down")
	})

	_, err := b.Publish(context.Background(), NewEvent("test.event", "keep-key", "test", nil))
	require.NoError(t, err)

	waitFor(t, func() bool {
		entries, _ := b.ListDeadLetters(context.Background())
		return len(entries) == 1
	}, 2*time.Second, "event never dead-lettered")

	entries, _ := b.ListDeadLetters(context.Background())
	deadID := entries[0].Event.ID

	// A closed bus refuses the publish; the entry must survive.
	b.Close()
	_, err = b.Replay(context.Background(), deadID)
	require.Error(t, err)

	remaining, err := b.ListDeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, deadID, remaining[0].Event.ID, "a failed replay must not drop the dead letter")
}

func TestReplay_UnknownEventID(t *testing.T) {
	b := newTestBus(t, 1)
	_, err := b.Replay(context.Background(), "no-such-event")
	assert.Error(t, err)
}

func TestDeferred_AckAndNack(t *testing.T) {
	b := newTestBus(t, 1)

	var seen atomic.Int64
	var eventID atomic.Value
	b.Subscribe("test.event", func(_ context.Context, ev Event) error {
		seen.Add(1)
		eventID.Store(ev.ID)
		return ErrDeferred
	})

	_, err := b.Publish(context.Background(), NewEvent("test.event", "deferred-key", "test", nil))
	require.NoError(t, err)
	waitFor(t, func() bool { return seen.Load() == 1 }, time.Second, "handler never ran")

	require.NoError(t, b.Ack(eventID.Load().(string)))
	rec, err := b.processing.Get(context.Background(), "deferred-key")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)

	// A second Ack for the same event has nothing to complete.
	assert.Error(t, b.Ack(eventID.Load().(string)))
}

func TestDeferred_NackEntersRetryPath(t *testing.T) {
	b := newTestBus(t, 1)

	deliveries := make(chan Event, 4)
	b.Subscribe("test.event", func(_ context.Context, ev Event) error {
		deliveries <- ev
		return ErrDeferred
	})

	_, err := b.Publish(context.Background(), NewEvent("test.event", "nack-key", "test", nil))
	require.NoError(t, err)

	var first Event
	select {
	case first = <-deliveries:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	require.NoError(t, b.Nack(first.ID, errors.New("async processing failed")))

	// The nack schedules a retry with an incremented attempt.
	select {
	case second := <-deliveries:
		assert.Equal(t, first.Attempt+1, second.Attempt)
		assert.Equal(t, "nack-key", second.IdempotencyKey)
	case <-time.After(time.Second):
		t.Fatal("nacked event never retried")
	}
}

func TestNoHandlers_MarkedDone(t *testing.T) {
	b := newTestBus(t, 3)

	_, err := b.Publish(context.Background(), NewEvent("unhandled.event", "idle-key", "test", nil))
	require.NoError(t, err)

	waitFor(t, func() bool {
		rec, _ := b.processing.Get(context.Background(), "idle-key")
		return rec != nil && rec.Status == StatusDone
	}, time.Second, "unhandled event never acked")
}

func TestClose_RejectsPublish(t *testing.T) {
	b := New(Options{Logger: logger.NewNoOpLogger()})
	b.Close()

	_, err := b.Publish(context.Background(), NewEvent("test.event", "k", "test", nil))
	assert.Error(t, err)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := New(Options{
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  80 * time.Millisecond,
		Logger:      logger.NewNoOpLogger(),
	})
	defer b.Close()

	for attempt, max := range map[int]time.Duration{
		0: 12500 * time.Microsecond, // 10ms + 25% jitter
		1: 25 * time.Millisecond,
		2: 50 * time.Millisecond,
		5: 80 * time.Millisecond, // capped
	} {
		d := b.backoff(attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	}
}
