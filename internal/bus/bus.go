package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"oracle-orchestrator/internal/common/errors"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/metrics"
)

// Handler consumes one event. Returning nil acks the event; returning an
// error nacks it into the retry/dead-letter path. Returning ErrDeferred
// hands completion to an explicit Ack/Nack call.
type Handler func(ctx context.Context, ev Event) error

// ErrDeferred signals that the handler will complete the event
// asynchronously via Bus.Ack or Bus.Nack.
var ErrDeferred = stderrors.New("bus: completion deferred")

// Options configures a Bus.
type Options struct {
	Processing  ProcessingStore
	DeadLetters DeadLetterStore
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Logger      logger.Logger
}

type failureLog struct {
	history       []string
	firstFailedAt time.Time
}

// Bus dispatches events to subscribed handlers with at-least-once-but-not-
// more semantics per idempotency key. Publish failures surface to the
// caller; handler failures are retried with backoff and eventually
// dead-lettered, never thrown back to the publisher.
type Bus struct {
	processing  ProcessingStore
	deadLetters DeadLetterStore
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	failMu   sync.Mutex
	failures map[string]*failureLog

	deferred sync.Map // eventID -> Event

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

func New(opts Options) *Bus {
	if opts.Processing == nil {
		opts.Processing = NewMemoryProcessingStore()
	}
	if opts.DeadLetters == nil {
		opts.DeadLetters = NewMemoryDeadLetterStore()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 50 * time.Millisecond
	}
	if opts.BackoffCap == 0 {
		opts.BackoffCap = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		processing:  opts.Processing,
		deadLetters: opts.DeadLetters,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		logger:      opts.Logger.WithFields(map[string]interface{}{"component": "event-bus"}),
		handlers:    make(map[string][]Handler),
		failures:    make(map[string]*failureLog),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a handler for an event type. Safe to call
// concurrently with Publish.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish appends an event to the bus and returns its id. Only publish
// failures (malformed event, closed bus) are reported here; handler
// outcomes never reach the publisher.
func (b *Bus) Publish(_ context.Context, ev Event) (string, error) {
	if b.closed.Load() {
		return "", errors.NewBusPublishError(stderrors.New("bus is closed"))
	}
	if ev.Type == "" {
		return "", errors.NewBusPublishError(stderrors.New("event type is required"))
	}
	if ev.IdempotencyKey == "" {
		return "", errors.NewBusPublishError(stderrors.New("idempotency key is required"))
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()

	b.wg.Add(1)
	go b.dispatch(ev)

	return ev.ID, nil
}

func (b *Bus) dispatch(ev Event) {
	defer b.wg.Done()

	log := b.logger.WithFields(map[string]interface{}{
		"eventId":        ev.ID,
		"eventType":      ev.Type,
		"idempotencyKey": ev.IdempotencyKey,
		"attempt":        ev.Attempt,
	})

	claimed, status, err := b.processing.Claim(b.baseCtx, ev.IdempotencyKey)
	if err != nil {
		log.WithError(err).Error("processing store claim failed", nil)
		b.nack(ev, err)
		return
	}
	if !claimed {
		switch status {
		case StatusDone:
			log.Debug("skipping already-processed event", nil)
			metrics.EventsDispatched.WithLabelValues(ev.Type, "skipped").Inc()
		default:
			// A concurrent delivery for this key is in flight.
			log.Debug("dropping duplicate in-flight event", nil)
			metrics.EventsDispatched.WithLabelValues(ev.Type, "dropped").Inc()
		}
		return
	}

	handlers := b.handlersFor(ev.Type)
	if len(handlers) == 0 {
		b.ack(ev)
		return
	}

	for _, h := range handlers {
		err := h(b.baseCtx, ev)
		if err == nil {
			continue
		}
		if stderrors.Is(err, ErrDeferred) {
			b.deferred.Store(ev.ID, ev)
			return
		}
		log.WithError(err).Warn("handler failed", nil)
		b.nack(ev, err)
		return
	}

	b.ack(ev)
}

// Ack completes a deferred event successfully.
func (b *Bus) Ack(eventID string) error {
	v, ok := b.deferred.LoadAndDelete(eventID)
	if !ok {
		return fmt.Errorf("ack: no deferred event %s", eventID)
	}
	b.ack(v.(Event))
	return nil
}

// Nack fails a deferred event into the retry/dead-letter path.
func (b *Bus) Nack(eventID string, cause error) error {
	v, ok := b.deferred.LoadAndDelete(eventID)
	if !ok {
		return fmt.Errorf("nack: no deferred event %s", eventID)
	}
	b.nack(v.(Event), cause)
	return nil
}

func (b *Bus) ack(ev Event) {
	if err := b.processing.MarkDone(b.baseCtx, ev.IdempotencyKey, ev.Attempt+1); err != nil {
		b.logger.WithError(err).Error("failed to mark event done", map[string]interface{}{
			"eventId": ev.ID,
		})
	}
	b.clearFailures(ev.IdempotencyKey)
	metrics.EventsDispatched.WithLabelValues(ev.Type, "success").Inc()
}

func (b *Bus) nack(ev Event, cause error) {
	attempts := ev.Attempt + 1
	now := time.Now().UTC()

	b.failMu.Lock()
	fl, ok := b.failures[ev.IdempotencyKey]
	if !ok {
		fl = &failureLog{firstFailedAt: now}
		b.failures[ev.IdempotencyKey] = fl
	}
	fl.history = append(fl.history, cause.Error())
	history := append([]string(nil), fl.history...)
	firstFailedAt := fl.firstFailedAt
	b.failMu.Unlock()

	if err := b.processing.MarkFailed(b.baseCtx, ev.IdempotencyKey, attempts, cause.Error()); err != nil {
		b.logger.WithError(err).Error("failed to mark event failed", map[string]interface{}{
			"eventId": ev.ID,
		})
	}
	metrics.EventsDispatched.WithLabelValues(ev.Type, "failure").Inc()

	if ev.Attempt >= b.maxRetries {
		b.deadLetter(ev, history, firstFailedAt, now)
		return
	}

	delay := b.backoff(ev.Attempt)
	metrics.EventsRetried.WithLabelValues(ev.Type).Inc()
	b.logger.Info("scheduling retry", map[string]interface{}{
		"eventId": ev.ID,
		"attempt": ev.Attempt,
		"delay":   delay.String(),
	})

	time.AfterFunc(delay, func() {
		if b.closed.Load() {
			return
		}
		next := ev
		next.Attempt++
		b.wg.Add(1)
		go b.dispatch(next)
	})
}

func (b *Bus) deadLetter(ev Event, history []string, firstFailedAt, lastAttemptAt time.Time) {
	entry := DeadLetterEntry{
		Event:          ev,
		FailureHistory: history,
		FirstFailedAt:  firstFailedAt,
		LastAttemptAt:  lastAttemptAt,
	}
	if err := b.deadLetters.Append(b.baseCtx, entry); err != nil {
		b.logger.WithError(err).Error("failed to append dead letter", map[string]interface{}{
			"eventId": ev.ID,
		})
		return
	}
	b.clearFailures(ev.IdempotencyKey)
	metrics.EventsDeadLettered.WithLabelValues(ev.Type).Inc()
	b.logger.Warn("event dead-lettered", map[string]interface{}{
		"eventId":        ev.ID,
		"eventType":      ev.Type,
		"idempotencyKey": ev.IdempotencyKey,
		"attempts":       ev.Attempt + 1,
	})
}

// ListDeadLetters exposes the DLQ for operator tooling.
func (b *Bus) ListDeadLetters(ctx context.Context) ([]DeadLetterEntry, error) {
	return b.deadLetters.List(ctx)
}

// Replay re-injects a dead-lettered event as a fresh event: new id, attempt
// reset to zero, same idempotency key.
func (b *Bus) Replay(ctx context.Context, eventID string) (string, error) {
	entry, err := b.deadLetters.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("replay: no dead letter %s", eventID)
	}

	fresh := entry.Event
	fresh.ID = ""
	fresh.Attempt = 0
	fresh.CreatedAt = time.Now().UTC()

	// Publish before removing: a failed publish must leave the entry in
	// the DLQ rather than dropping the event.
	newID, err := b.Publish(ctx, fresh)
	if err != nil {
		return "", err
	}
	if err := b.deadLetters.Remove(ctx, eventID); err != nil {
		b.logger.WithError(err).Error("failed to remove replayed dead letter", map[string]interface{}{
			"eventId": eventID,
		})
	}

	metrics.EventsReplayed.Inc()
	return newID, nil
}

// Close stops accepting publishes and waits for in-flight dispatches.
// Pending retry timers are abandoned.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.wg.Wait()
	b.cancel()
}

func (b *Bus) handlersFor(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handler(nil), b.handlers[eventType]...)
}

func (b *Bus) clearFailures(key string) {
	b.failMu.Lock()
	delete(b.failures, key)
	b.failMu.Unlock()
}

// backoff computes base * 2^attempt, capped, plus jitter.
func (b *Bus) backoff(attempt int) time.Duration {
	d := b.backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.backoffCap {
			d = b.backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+jitter > b.backoffCap {
		return b.backoffCap
	}
	return d + jitter
}
