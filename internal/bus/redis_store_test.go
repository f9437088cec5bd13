package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisProcessingStore_ClaimTransitions(t *testing.T) {
	store := NewRedisProcessingStore(setupRedis(t))
	ctx := context.Background()

	// Fresh key claims.
	claimed, status, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, StatusPending, status)

	// Pending key refuses a second claim.
	claimed, status, err = store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StatusPending, status)

	// Done key stays refused.
	require.NoError(t, store.MarkDone(ctx, "k1", 1))
	claimed, status, err = store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StatusDone, status)

	// Failed key may be re-claimed for a retry.
	require.NoError(t, store.MarkFailed(ctx, "k2", 1, "boom"))
	claimed, status, err = store.Claim(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, StatusPending, status)
}

func TestRedisProcessingStore_GetRoundTrip(t *testing.T) {
	store := NewRedisProcessingStore(setupRedis(t))
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.MarkFailed(ctx, "k1", 2, "timeout"))
	rec, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "k1", rec.IdempotencyKey)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "timeout", rec.LastError)
	assert.False(t, rec.ProcessedAt.IsZero())
}

func TestRedisDeadLetterStore_RoundTrip(t *testing.T) {
	store := NewRedisDeadLetterStore(setupRedis(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []DeadLetterEntry{
		{
			Event:          NewEvent("test.event", "k1", "test", map[string]interface{}{"n": float64(1)}),
			FailureHistory: []string{"boom", "boom again"},
			FirstFailedAt:  now,
			LastAttemptAt:  now,
		},
		{
			Event:          NewEvent("test.event", "k2", "test", nil),
			FailureHistory: []string{"down"},
			FirstFailedAt:  now,
			LastAttemptAt:  now,
		},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(ctx, e))
	}

	listed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "k1", listed[0].Event.IdempotencyKey)
	assert.Equal(t, "k2", listed[1].Event.IdempotencyKey)
	assert.Equal(t, []string{"boom", "boom again"}, listed[0].FailureHistory)

	got, err := store.Get(ctx, entries[0].Event.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entries[0].Event.ID, got.Event.ID)

	require.NoError(t, store.Remove(ctx, entries[0].Event.ID))
	got, err = store.Get(ctx, entries[0].Event.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	listed, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "k2", listed[0].Event.IdempotencyKey)
}

func TestBusOnRedisStores_Idempotency(t *testing.T) {
	client := setupRedis(t)
	b := New(Options{
		Processing:  NewRedisProcessingStore(client),
		DeadLetters: NewRedisDeadLetterStore(client),
		MaxRetries:  2,
		BackoffBase: 1 * time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	})
	t.Cleanup(b.Close)

	effects := make(chan struct{}, 16)
	b.Subscribe("test.event", func(_ context.Context, _ Event) error {
		effects <- struct{}{}
		return nil
	})

	for i := 0; i < 5; i++ {
		_, err := b.Publish(context.Background(), NewEvent("test.event", "shared", "test", nil))
		require.NoError(t, err)
	}

	select {
	case <-effects:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	select {
	case <-effects:
		t.Fatal("duplicate effect for one idempotency key")
	case <-time.After(50 * time.Millisecond):
	}
}
