package provider

import (
	"context"
	"sync"
	"time"

	"oracle-orchestrator/internal/common/logger"
)

type healthState struct {
	healthy        bool
	unhealthyUntil time.Time
	lastChecked    time.Time
}

// HealthCache tracks cached provider health so the hot path never pays for
// a health probe. Failures stamp a cool-down window; when it expires the
// next request is allowed through as a probe, and a successful probe
// promotes the provider back immediately.
type HealthCache struct {
	mu       sync.RWMutex
	states   map[string]healthState
	cooldown time.Duration
	refresh  time.Duration
	logger   logger.Logger
	now      func() time.Time
}

func NewHealthCache(cooldown, refresh time.Duration, log logger.Logger) *HealthCache {
	return &HealthCache{
		states:   make(map[string]healthState),
		cooldown: cooldown,
		refresh:  refresh,
		logger:   log.WithFields(map[string]interface{}{"component": "health-cache"}),
		now:      time.Now,
	}
}

// Eligible reports whether the provider may be attempted. Unknown providers
// are eligible; an unhealthy provider becomes eligible again once its
// cool-down expires (the attempt doubles as the probe).
func (h *HealthCache) Eligible(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.states[id]
	if !ok {
		return true
	}
	if s.healthy {
		return true
	}
	return !h.now().Before(s.unhealthyUntil)
}

// InCooldownProbe reports whether an attempt on this provider would be a
// recovery probe (previously unhealthy, cool-down elapsed).
func (h *HealthCache) InCooldownProbe(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.states[id]
	return ok && !s.healthy && !h.now().Before(s.unhealthyUntil)
}

// MarkUnhealthy stamps a fresh cool-down window after a failed invocation.
func (h *HealthCache) MarkUnhealthy(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.states[id] = healthState{
		healthy:        false,
		unhealthyUntil: h.now().Add(h.cooldown),
		lastChecked:    h.now(),
	}
}

// MarkHealthy promotes a provider back to eligible immediately.
func (h *HealthCache) MarkHealthy(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.states[id] = healthState{healthy: true, lastChecked: h.now()}
}

// Run refreshes cached health from the adapters' Healthy() checks until ctx
// is cancelled. A refresh never shortens an active cool-down window.
func (h *HealthCache) Run(ctx context.Context, registry *Registry) {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refreshAll(ctx, registry)
		}
	}
}

func (h *HealthCache) refreshAll(ctx context.Context, registry *Registry) {
	for _, e := range registry.Snapshot() {
		checkCtx, cancel := context.WithTimeout(ctx, e.Descriptor.Timeout())
		healthy := e.Adapter.Healthy(checkCtx)
		cancel()

		h.mu.Lock()
		s := h.states[e.Descriptor.ID]
		if !healthy {
			h.states[e.Descriptor.ID] = healthState{
				healthy:        false,
				unhealthyUntil: h.now().Add(h.cooldown),
				lastChecked:    h.now(),
			}
		} else if s.healthy || h.now().After(s.unhealthyUntil) {
			h.states[e.Descriptor.ID] = healthState{healthy: true, lastChecked: h.now()}
		}
		h.mu.Unlock()

		if !healthy {
			h.logger.Warn("provider health check failed", map[string]interface{}{
				"providerId": e.Descriptor.ID,
			})
		}
	}
}
