package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-orchestrator/internal/bus"
	apperrors "oracle-orchestrator/internal/common/errors"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/orchestrator"
)

type fakeHandler struct {
	result *orchestrator.AggregatedResult
	err    error
	seen   orchestrator.RequestDescriptor
}

func (f *fakeHandler) HandleRequest(_ context.Context, desc orchestrator.RequestDescriptor) (*orchestrator.AggregatedResult, error) {
	f.seen = desc
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T, handler RequestHandler) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.Options{
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		Logger:      logger.NewTestLogger(t),
	})
	t.Cleanup(b.Close)
	return New(":0", b, handler, logger.NewTestLogger(t)), b
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeHandler{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestOrchestrate_Success(t *testing.T) {
	handler := &fakeHandler{
		result: &orchestrator.AggregatedResult{
			Content:               "an answer",
			ContributingProviders: []string{"fire", "synth-primary"},
			BlendWeights:          map[string]float64{"fire": 1},
			LatencyMs:             42,
		},
	}
	s, _ := newTestServer(t, handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orchestrate",
		strings.NewReader(`{"id":"req-1","input":"hello","deadlineHintMs":2000}`))
	s.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", handler.seen.ID)
	assert.Equal(t, "hello", handler.seen.Input)
	assert.Equal(t, 2000, handler.seen.DeadlineHintMs)

	var body orchestrator.AggregatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "an answer", body.Content)
	assert.Equal(t, int64(42), body.LatencyMs)
}

func TestOrchestrate_MalformedBody(t *testing.T) {
	s, _ := newTestServer(t, &fakeHandler{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", strings.NewReader("{not json"))
	s.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrchestrate_ValidationErrorIs400(t *testing.T) {
	s, _ := newTestServer(t, &fakeHandler{err: apperrors.NewValidationError("id: String length must be greater than or equal to 1")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", strings.NewReader(`{"id":""}`))
	s.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "String length")
}

func TestDLQ_ListAndReplay(t *testing.T) {
	s, b := newTestServer(t, &fakeHandler{})

	failing := errors.New("handler down")
	var healthy atomic.Bool
	b.Subscribe("test.event", func(_ context.Context, _ bus.Event) error {
		if healthy.Load() {
			return nil
		}
		return failing
	})
	_, err := b.Publish(context.Background(), bus.NewEvent("test.event", "dlq-key", "test", nil))
	require.NoError(t, err)

	var entries []bus.DeadLetterEntry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err = b.ListDeadLetters(context.Background())
		require.NoError(t, err)
		if len(entries) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, entries, 1)

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dlq", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listBody struct {
		Count   int                   `json:"count"`
		Entries []bus.DeadLetterEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	require.Equal(t, 1, listBody.Count)
	assert.Equal(t, "dlq-key", listBody.Entries[0].Event.IdempotencyKey)

	healthy.Store(true)
	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dlq/"+entries[0].Event.ID+"/replay", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var replayBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayBody))
	assert.Equal(t, entries[0].Event.ID, replayBody["replayedEventId"])
	assert.NotEmpty(t, replayBody["newEventId"])
	assert.NotEqual(t, entries[0].Event.ID, replayBody["newEventId"])
}

func TestDLQ_ReplayUnknownID(t *testing.T) {
	s, _ := newTestServer(t, &fakeHandler{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dlq/not-there/replay", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeHandler{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
