// Package fallback implements the resilient fallback chain: an ordered list
// of interchangeable providers tried in priority order with cached health
// checks, cool-down on failure, and a deterministic default when the chain
// exhausts. Invoke never returns an error to the caller.
package fallback

import (
	"context"

	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/metrics"
	"oracle-orchestrator/internal/provider"
)

type Chain struct {
	entries       []provider.Entry
	health        *provider.HealthCache
	defaultResult provider.Result
	logger        logger.Logger
}

// New builds a chain over the given entries (already ordered by ascending
// priority, as returned by Registry.ByKind). defaultResult is the
// statically-known terminal answer used when every provider is down.
func New(entries []provider.Entry, health *provider.HealthCache, defaultResult provider.Result, log logger.Logger) *Chain {
	return &Chain{
		entries:       entries,
		health:        health,
		defaultResult: defaultResult,
		logger:        log.WithFields(map[string]interface{}{"component": "fallback-chain"}),
	}
}

// Invoke tries providers in priority order, skipping those the health cache
// marks ineligible. A failure or timeout stamps a cool-down window and
// advances to the next provider. The contract is "always return something
// usable": on exhaustion the deterministic default comes back, never an
// error.
func (c *Chain) Invoke(ctx context.Context, req provider.Request) *provider.Result {
	for _, e := range c.entries {
		id := e.Descriptor.ID
		if !c.health.Eligible(id) {
			metrics.FallbackAttempts.WithLabelValues(id, "skipped").Inc()
			continue
		}
		probing := c.health.InCooldownProbe(id)

		ictx, cancel := context.WithTimeout(ctx, e.Descriptor.Timeout())
		res, err := e.Adapter.Invoke(ictx, req)
		cancel()

		if err != nil || res == nil {
			c.health.MarkUnhealthy(id)
			metrics.FallbackAttempts.WithLabelValues(id, "failure").Inc()
			c.logger.WithError(err).Warn("provider failed, advancing chain", map[string]interface{}{
				"providerId": id,
			})
			continue
		}

		if probing {
			// Recovered: promote back to eligible immediately.
			metrics.FallbackPromotions.WithLabelValues(id).Inc()
			c.logger.Info("provider recovered after cool-down", map[string]interface{}{
				"providerId": id,
			})
		}
		c.health.MarkHealthy(id)
		metrics.FallbackAttempts.WithLabelValues(id, "success").Inc()
		res.ProviderID = id
		return res
	}

	c.logger.Warn("fallback chain exhausted, returning static default", nil)
	def := c.defaultResult
	return &def
}
