package orchestrator

import (
	"context"

	"oracle-orchestrator/internal/bus"
	"oracle-orchestrator/internal/provider"
)

// handleGenerationRequested serves generation.requested events: it drives
// the generation-kind providers through their fallback chain and publishes
// the matching generation.completed event. Errors returned here go through
// the bus retry machinery, not back to the request hot path.
func (c *Coordinator) handleGenerationRequested(ctx context.Context, ev bus.Event) error {
	requestID, _ := ev.Payload["requestId"].(string)
	input, _ := ev.Payload["input"].(string)
	weights := toFloatMap(ev.Payload["weights"])

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout())
	defer cancel()

	res := c.generation.Invoke(dctx, provider.Request{
		RequestID: requestID,
		Input:     input,
		Weights:   weights,
	})

	completed := bus.NewEvent(bus.TypeGenerationCompleted, "generation-completed:"+requestID, sourceComponent, map[string]interface{}{
		"requestId":  requestID,
		"content":    res.Content,
		"providerId": res.ProviderID,
		"score":      res.Score,
	})
	_, err := c.bus.Publish(ctx, completed)
	return err
}

// handleGenerationCompleted routes a completion back to the waiting request
// run. A completion with no waiter belongs to a cancelled or timed-out
// request and is ignored.
func (c *Coordinator) handleGenerationCompleted(_ context.Context, ev bus.Event) error {
	requestID, _ := ev.Payload["requestId"].(string)

	c.waitMu.Lock()
	ch, ok := c.waiters[requestID]
	c.waitMu.Unlock()
	if !ok {
		return nil
	}

	select {
	case ch <- ev:
	default:
	}
	return nil
}

// toFloatMap coerces a payload value into a weight map, tolerating both
// in-memory float64 maps and JSON-decoded interface maps.
func toFloatMap(v interface{}) map[string]float64 {
	switch m := v.(type) {
	case map[string]float64:
		return m
	case map[string]interface{}:
		out := make(map[string]float64, len(m))
		for k, val := range m {
			if f, ok := val.(float64); ok {
				out[k] = f
			}
		}
		return out
	}
	return nil
}
