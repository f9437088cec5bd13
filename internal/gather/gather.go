// Package gather implements the fan-out context orchestrator: parallel
// provider invocations under one shared deadline, first-complete-first-
// recorded, stragglers degraded instead of failing the gather.
package gather

import (
	"context"
	"errors"
	"time"

	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/metrics"
	"oracle-orchestrator/internal/provider"
)

var errNoResult = errors.New("provider returned no result")

// Degradation reasons recorded on non-successful outcomes.
const (
	ReasonTimeout = "timeout"
	ReasonError   = "error"
)

// Degradation explains why a provider's real result is missing.
type Degradation struct {
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Outcome is what gather records per provider. A degraded outcome still
// carries a Result: the last-known-good value when one exists, otherwise a
// neutral placeholder.
type Outcome struct {
	Result   *provider.Result
	Degraded *Degradation
}

func (o Outcome) IsDegraded() bool { return o.Degraded != nil }

type completion struct {
	id  string
	res *provider.Result
	err error
}

type Orchestrator struct {
	cache  ResultCache
	logger logger.Logger
}

func New(cache ResultCache, log logger.Logger) *Orchestrator {
	if cache == nil {
		cache = NewMemoryResultCache()
	}
	return &Orchestrator{
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "gather"}),
	}
}

// Gather invokes every entry concurrently, each bounded by
// min(providerTimeout, remaining shared budget), and returns as soon as all
// providers complete or the shared deadline elapses, whichever is first. A
// single provider's failure or timeout only downgrades that provider to
// Degraded; the gather itself never fails.
func (g *Orchestrator) Gather(ctx context.Context, entries []provider.Entry, budget time.Duration, req provider.Request) map[string]Outcome {
	started := time.Now()
	outcomes := make(map[string]Outcome, len(entries))
	if len(entries) == 0 {
		return outcomes
	}

	shared, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	completions := make(chan completion, len(entries))
	for _, e := range entries {
		go g.invoke(shared, e, req, completions)
	}

	remaining := len(entries)
	for remaining > 0 {
		select {
		case c := <-completions:
			remaining--
			if c.err != nil {
				reason := ReasonError
				if errors.Is(c.err, context.DeadlineExceeded) {
					reason = ReasonTimeout
				}
				outcomes[c.id] = g.degrade(c.id, reason, c.err)
				continue
			}
			c.res.ProviderID = c.id
			outcomes[c.id] = Outcome{Result: c.res}
			g.cacheAsync(c.id, c.res)
		case <-shared.Done():
			remaining = 0
		}
	}

	// Anything without a recorded outcome hit the shared deadline.
	for _, e := range entries {
		if _, ok := outcomes[e.Descriptor.ID]; !ok {
			outcomes[e.Descriptor.ID] = g.degrade(e.Descriptor.ID, ReasonTimeout, context.DeadlineExceeded)
		}
	}

	metrics.GatherDuration.Observe(time.Since(started).Seconds())
	return outcomes
}

func (g *Orchestrator) invoke(shared context.Context, e provider.Entry, req provider.Request, out chan<- completion) {
	ictx, cancel := context.WithTimeout(shared, e.Descriptor.Timeout())
	defer cancel()

	res, err := e.Adapter.Invoke(ictx, req)
	if err == nil && res == nil {
		err = errNoResult
	}
	select {
	case out <- completion{id: e.Descriptor.ID, res: res, err: err}:
	case <-shared.Done():
	}
}

// degrade builds the substituted outcome: last-known-good when cached,
// neutral placeholder otherwise.
func (g *Orchestrator) degrade(providerID, reason string, cause error) Outcome {
	metrics.GatherDegraded.WithLabelValues(providerID, reason).Inc()
	g.logger.Warn("context provider degraded", map[string]interface{}{
		"providerId": providerID,
		"reason":     reason,
	})

	lookupCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := g.cache.Get(lookupCtx, providerID)
	if res == nil {
		res = &provider.Result{ProviderID: providerID, Content: "", Score: 0}
	}
	return Outcome{
		Result:   res,
		Degraded: &Degradation{Reason: reason, Err: cause},
	}
}

// cacheAsync stores a fresh last-known-good value off the hot path.
func (g *Orchestrator) cacheAsync(providerID string, res *provider.Result) {
	cp := *res
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		g.cache.Put(ctx, providerID, &cp)
	}()
}
