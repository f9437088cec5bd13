// Package ops exposes the operator surface: health, Prometheus metrics,
// pprof, and dead-letter inspection/replay. Intended for operator tooling,
// not end users.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oracle-orchestrator/internal/bus"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/orchestrator"
)

// RequestHandler is the inbound entry point served on behalf of the
// excluded API layer.
type RequestHandler interface {
	HandleRequest(ctx context.Context, desc orchestrator.RequestDescriptor) (*orchestrator.AggregatedResult, error)
}

type Server struct {
	srv     *http.Server
	bus     *bus.Bus
	handler RequestHandler
	logger  logger.Logger
}

func New(addr string, b *bus.Bus, handler RequestHandler, log logger.Logger) *Server {
	s := &Server{
		bus:     b,
		handler: handler,
		logger:  log.WithFields(map[string]interface{}{"component": "ops-server"}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /orchestrate", s.handleOrchestrate)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /dlq", s.handleListDeadLetters)
	mux.HandleFunc("POST /dlq/{id}/replay", s.handleReplay)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", map[string]interface{}{"addr": s.srv.Addr})
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var desc orchestrator.RequestDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.handler.HandleRequest(r.Context(), desc)
	if err != nil {
		// Only validation failures cross the core boundary.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.bus.ListDeadLetters(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("dlq list failed", nil)
		http.Error(w, "dead letter listing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if eventID == "" {
		http.Error(w, "event id is required", http.StatusBadRequest)
		return
	}

	newID, err := s.bus.Replay(r.Context(), eventID)
	if err != nil {
		s.logger.WithError(err).Warn("dlq replay failed", map[string]interface{}{"eventId": eventID})
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"replayedEventId": eventID,
		"newEventId":      newID,
	})
}
