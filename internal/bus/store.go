package bus

import (
	"context"
	"sync"
	"time"
)

// ProcessingStore answers "have I already done this" for an idempotency key
// and serializes dispatch: Claim moves the key to pending atomically, so at
// most one delivery per key is in flight at a time.
type ProcessingStore interface {
	// Claim attempts to transition the key to pending. It succeeds for
	// unknown keys and keys whose last dispatch failed; it is refused for
	// keys currently pending or already done, returning the existing status.
	Claim(ctx context.Context, key string) (bool, RecordStatus, error)
	MarkDone(ctx context.Context, key string, attempts int) error
	MarkFailed(ctx context.Context, key string, attempts int, lastErr string) error
	Get(ctx context.Context, key string) (*ProcessingRecord, error)
}

// DeadLetterStore holds events that exhausted their retries, supporting
// concurrent append/lookup for the operator surface.
type DeadLetterStore interface {
	Append(ctx context.Context, entry DeadLetterEntry) error
	List(ctx context.Context) ([]DeadLetterEntry, error)
	Get(ctx context.Context, eventID string) (*DeadLetterEntry, error)
	Remove(ctx context.Context, eventID string) error
}

// ==========================
// In-memory implementations
// ==========================

// MemoryProcessingStore is the mutex-guarded default; production deploys
// use the Redis-backed store.
type MemoryProcessingStore struct {
	mu      sync.Mutex
	records map[string]*ProcessingRecord
}

func NewMemoryProcessingStore() *MemoryProcessingStore {
	return &MemoryProcessingStore{records: make(map[string]*ProcessingRecord)}
}

func (s *MemoryProcessingStore) Claim(_ context.Context, key string) (bool, RecordStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if ok && (rec.Status == StatusPending || rec.Status == StatusDone) {
		return false, rec.Status, nil
	}

	attempts := 0
	if ok {
		attempts = rec.Attempts
	}
	s.records[key] = &ProcessingRecord{
		IdempotencyKey: key,
		Status:         StatusPending,
		Attempts:       attempts,
	}
	return true, StatusPending, nil
}

func (s *MemoryProcessingStore) MarkDone(_ context.Context, key string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = &ProcessingRecord{
		IdempotencyKey: key,
		Status:         StatusDone,
		Attempts:       attempts,
		ProcessedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryProcessingStore) MarkFailed(_ context.Context, key string, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = &ProcessingRecord{
		IdempotencyKey: key,
		Status:         StatusFailed,
		Attempts:       attempts,
		LastError:      lastErr,
		ProcessedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryProcessingStore) Get(_ context.Context, key string) (*ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// MemoryDeadLetterStore keeps dead letters in insertion order.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	entries map[string]DeadLetterEntry
	order   []string
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{entries: make(map[string]DeadLetterEntry)}
}

func (s *MemoryDeadLetterStore) Append(_ context.Context, entry DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Event.ID]; !exists {
		s.order = append(s.order, entry.Event.ID)
	}
	s.entries[entry.Event.ID] = entry
	return nil
}

func (s *MemoryDeadLetterStore) List(_ context.Context) ([]DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeadLetterEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out, nil
}

func (s *MemoryDeadLetterStore) Get(_ context.Context, eventID string) (*DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[eventID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryDeadLetterStore) Remove(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, eventID)
	for i, id := range s.order {
		if id == eventID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
