package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "bus:record:"
	dlqKeyPrefix    = "bus:dlq:"
	dlqIndexKey     = "bus:dlq:index"
)

// claimScript transitions a processing record to pending atomically.
// Refused when the key is already pending (a concurrent delivery owns it)
// or done (the effect already happened).
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'pending' or status == 'done' then
  return status
end
redis.call('HSET', KEYS[1], 'idempotencyKey', ARGV[1], 'status', 'pending')
return 'claimed'
`)

// RedisProcessingStore persists ProcessingRecords in Redis hashes, one per
// idempotency key.
type RedisProcessingStore struct {
	client *redis.Client
}

func NewRedisProcessingStore(client *redis.Client) *RedisProcessingStore {
	return &RedisProcessingStore{client: client}
}

func (s *RedisProcessingStore) Claim(ctx context.Context, key string) (bool, RecordStatus, error) {
	res, err := claimScript.Run(ctx, s.client, []string{recordKeyPrefix + key}, key).Text()
	if err != nil {
		return false, "", fmt.Errorf("claim %s: %w", key, err)
	}
	if res == "claimed" {
		return true, StatusPending, nil
	}
	return false, RecordStatus(res), nil
}

func (s *RedisProcessingStore) MarkDone(ctx context.Context, key string, attempts int) error {
	return s.client.HSet(ctx, recordKeyPrefix+key,
		"idempotencyKey", key,
		"status", string(StatusDone),
		"attempts", attempts,
		"lastError", "",
		"processedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisProcessingStore) MarkFailed(ctx context.Context, key string, attempts int, lastErr string) error {
	return s.client.HSet(ctx, recordKeyPrefix+key,
		"idempotencyKey", key,
		"status", string(StatusFailed),
		"attempts", attempts,
		"lastError", lastErr,
		"processedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisProcessingStore) Get(ctx context.Context, key string) (*ProcessingRecord, error) {
	vals, err := s.client.HGetAll(ctx, recordKeyPrefix+key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	rec := &ProcessingRecord{
		IdempotencyKey: vals["idempotencyKey"],
		Status:         RecordStatus(vals["status"]),
		LastError:      vals["lastError"],
	}
	if n, err := strconv.Atoi(vals["attempts"]); err == nil {
		rec.Attempts = n
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["processedAt"]); err == nil {
		rec.ProcessedAt = ts
	}
	return rec, nil
}

// RedisDeadLetterStore persists DeadLetterEntries as JSON values indexed by
// event id.
type RedisDeadLetterStore struct {
	client *redis.Client
}

func NewRedisDeadLetterStore(client *redis.Client) *RedisDeadLetterStore {
	return &RedisDeadLetterStore{client: client}
}

func (s *RedisDeadLetterStore) Append(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", entry.Event.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKeyPrefix+entry.Event.ID, data, 0)
	pipe.RPush(ctx, dlqIndexKey, entry.Event.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisDeadLetterStore) List(ctx context.Context) ([]DeadLetterEntry, error) {
	ids, err := s.client.LRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (s *RedisDeadLetterStore) Get(ctx context.Context, eventID string) (*DeadLetterEntry, error) {
	data, err := s.client.Get(ctx, dlqKeyPrefix+eventID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal dead letter %s: %w", eventID, err)
	}
	return &entry, nil
}

func (s *RedisDeadLetterStore) Remove(ctx context.Context, eventID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqKeyPrefix+eventID)
	pipe.LRem(ctx, dlqIndexKey, 0, eventID)
	_, err := pipe.Exec(ctx)
	return err
}
