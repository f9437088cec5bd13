// Package orchestrator sequences one inbound request through context
// fan-out, weight blending, bus-mediated generation, and terminal
// synthesis, guaranteeing a well-formed response even when every provider
// misbehaves.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"oracle-orchestrator/internal/blend"
	"oracle-orchestrator/internal/bus"
	"oracle-orchestrator/internal/common/config"
	"oracle-orchestrator/internal/common/errors"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/metrics"
	"oracle-orchestrator/internal/common/observability"
	"oracle-orchestrator/internal/common/validation"
	"oracle-orchestrator/internal/fallback"
	"oracle-orchestrator/internal/gather"
	"oracle-orchestrator/internal/provider"
)

const sourceComponent = "orchestration-coordinator"

// Coordinator wires the registry, bus, gatherer, blender, and fallback
// chains into the per-request state machine. One Coordinator serves many
// concurrent requests; per-request state lives in RequestContext, shared
// state is limited to the registry and health cache.
type Coordinator struct {
	registry   *provider.Registry
	bus        *bus.Bus
	gatherer   *gather.Orchestrator
	blender    *blend.Engine
	health     *provider.HealthCache
	generation *fallback.Chain
	terminal   *fallback.Chain
	cfg        config.OrchestratorConfig
	obs        *observability.Observability
	logger     logger.Logger

	waitMu  sync.Mutex
	waiters map[string]chan bus.Event

	defaultTerminalID string
}

// Options bundles the coordinator's collaborators.
type Options struct {
	Registry       *provider.Registry
	Bus            *bus.Bus
	Gatherer       *gather.Orchestrator
	Blender        *blend.Engine
	Health         *provider.HealthCache
	Config         config.OrchestratorConfig
	DefaultContent string
	Observability  *observability.Observability
	Logger         logger.Logger
}

// New validates the registered provider set (including constraint-set
// feasibility per kind) and subscribes the generation handlers on the bus.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil || opts.Registry.Len() == 0 {
		return nil, errors.NewConfigurationInvalidError("at least one provider must be registered")
	}
	for _, kind := range provider.KnownKinds {
		if err := opts.Registry.ValidateFeasibility(kind); err != nil {
			return nil, err
		}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Observability == nil {
		opts.Observability = &observability.Observability{}
	}

	log := opts.Logger.WithFields(map[string]interface{}{"component": sourceComponent})

	c := &Coordinator{
		registry:          opts.Registry,
		bus:               opts.Bus,
		gatherer:          opts.Gatherer,
		blender:           opts.Blender,
		health:            opts.Health,
		cfg:               opts.Config,
		obs:               opts.Observability,
		logger:            log,
		waiters:           make(map[string]chan bus.Event),
		defaultTerminalID: "static-default",
	}

	c.generation = fallback.New(
		opts.Registry.ByKind(provider.KindGeneration),
		opts.Health,
		provider.Result{ProviderID: c.defaultTerminalID, Content: "", Score: 0},
		opts.Logger,
	)
	c.terminal = fallback.New(
		opts.Registry.ByKind(provider.KindTerminal),
		opts.Health,
		provider.Result{ProviderID: c.defaultTerminalID, Content: opts.DefaultContent, Score: 0},
		opts.Logger,
	)

	c.bus.Subscribe(bus.TypeGenerationRequested, c.handleGenerationRequested)
	c.bus.Subscribe(bus.TypeGenerationCompleted, c.handleGenerationCompleted)

	return c, nil
}

// HandleRequest runs one request through the state machine. The only error
// returns are validation failures; every other fault degrades into the
// AggregatedResult.
func (c *Coordinator) HandleRequest(ctx context.Context, desc RequestDescriptor) (*AggregatedResult, error) {
	started := time.Now()
	metrics.RequestsActive.Inc()
	defer metrics.RequestsActive.Dec()

	// RECEIVED
	if err := validation.ValidateRequestDescriptor(desc); err != nil {
		return nil, err
	}

	timeout := c.cfg.RequestTimeout()
	if desc.DeadlineHintMs > 0 {
		hint := time.Duration(desc.DeadlineHintMs) * time.Millisecond
		if hint < timeout {
			timeout = hint
		}
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc := &RequestContext{
		RequestID: desc.ID,
		Deadline:  started.Add(timeout),
	}
	log := c.logger.WithFields(map[string]interface{}{"requestId": desc.ID})
	log.Info("request received", map[string]interface{}{"deadline": rc.Deadline})

	degraded := make(map[string]bool)
	meta := make(map[string]interface{})
	run := requestedKinds(desc.Kinds)

	// GATHERING_CONTEXT
	rc.PartialResults = map[string]gather.Outcome{}
	var contextEntries []provider.Entry
	if run[provider.KindContext] {
		log.Debug("state transition", map[string]interface{}{"state": StateGatheringContext})
		contextEntries = c.registry.ByKind(provider.KindContext)
		rc.PartialResults = c.gatherer.Gather(rctx, contextEntries, c.cfg.GatherBudget(), provider.Request{
			RequestID: desc.ID,
			Input:     desc.Input,
		})
	}

	// BLENDING
	log.Debug("state transition", map[string]interface{}{"state": StateBlending})
	rawScores := make(map[string]float64, len(rc.PartialResults))
	constraints := make(map[string]blend.Constraint, len(contextEntries))
	blendDegraded := make(map[string]bool, len(rc.PartialResults))
	for _, e := range contextEntries {
		constraints[e.Descriptor.ID] = blend.Constraint{Floor: e.Descriptor.Floor, Ceiling: e.Descriptor.Ceiling}
	}
	for id, outcome := range rc.PartialResults {
		rawScores[id] = outcome.Result.Score
		if outcome.IsDegraded() {
			blendDegraded[id] = true
			degraded[id] = true
		}
	}
	weights, blendErr := c.blender.Blend(rawScores, constraints, blendDegraded)
	rc.BlendWeights = weights
	if blendErr != nil {
		meta["aggregationInvariant"] = blendErr.Error()
	}

	// DISPATCHING
	var genContent, genProvider string
	if run[provider.KindGeneration] {
		log.Debug("state transition", map[string]interface{}{"state": StateDispatching})
		genContent, genProvider = c.dispatchGeneration(rctx, desc, rc, log)
		if genProvider == "" {
			for _, e := range c.registry.ByKind(provider.KindGeneration) {
				degraded[e.Descriptor.ID] = true
			}
			meta["generationDegraded"] = true
		}
	}

	// ASSEMBLING
	log.Debug("state transition", map[string]interface{}{"state": StateAssembling})
	terminalInput := genContent
	if terminalInput == "" {
		terminalInput = desc.Input
	}
	var terminalRes *provider.Result
	if run[provider.KindTerminal] {
		terminalRes = c.terminal.Invoke(rctx, provider.Request{
			RequestID: desc.ID,
			Input:     terminalInput,
			Weights:   weights,
		})
		if terminalRes.ProviderID == c.defaultTerminalID {
			for _, e := range c.registry.ByKind(provider.KindTerminal) {
				degraded[e.Descriptor.ID] = true
			}
			meta["terminalDefault"] = true
		}
	} else {
		// Terminal synthesis not requested: the response carries the best
		// content produced so far.
		terminalRes = &provider.Result{Content: terminalInput}
	}

	// COMPLETED / DEGRADED_COMPLETED
	result := c.assemble(rc, terminalRes, genProvider, degraded, meta, started)
	state := StateCompleted
	if len(result.DegradedProviders) > 0 || blendErr != nil {
		state = StateDegradedCompleted
	}

	c.emitCompletion(rctx, desc.ID, state, result, log)

	elapsed := time.Since(started)
	metrics.RequestDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
	c.obs.RecordRequest(ctx, string(state))
	c.obs.RecordRequestDuration(ctx, elapsed, string(state))
	log.Info("request finished", map[string]interface{}{
		"state":     state,
		"latencyMs": result.LatencyMs,
		"degraded":  result.DegradedProviders,
	})

	return result, nil
}

// dispatchGeneration publishes generation.requested and awaits the matching
// completion event, bounded by the dispatch timeout and the request
// deadline. A timeout or publish failure returns empty values; the caller
// degrades and continues.
func (c *Coordinator) dispatchGeneration(ctx context.Context, desc RequestDescriptor, rc *RequestContext, log logger.Logger) (string, string) {
	contextContent := make(map[string]interface{}, len(rc.PartialResults))
	for id, outcome := range rc.PartialResults {
		contextContent[id] = outcome.Result.Content
	}

	waiter := c.addWaiter(desc.ID)
	defer c.removeWaiter(desc.ID)

	ev := bus.NewEvent(bus.TypeGenerationRequested, "generation:"+desc.ID, sourceComponent, map[string]interface{}{
		"requestId": desc.ID,
		"input":     desc.Input,
		"weights":   rc.BlendWeights,
		"context":   contextContent,
	})
	if _, err := c.bus.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("generation publish failed", nil)
		return "", ""
	}

	select {
	case completed := <-waiter:
		content, _ := completed.Payload["content"].(string)
		providerID, _ := completed.Payload["providerId"].(string)
		if providerID == c.defaultTerminalID {
			return content, ""
		}
		return content, providerID
	case <-time.After(c.cfg.DispatchTimeout()):
		log.Warn("generation round-trip timed out", nil)
		return "", ""
	case <-ctx.Done():
		log.Warn("request deadline hit while awaiting generation", nil)
		return "", ""
	}
}

func (c *Coordinator) assemble(rc *RequestContext, terminalRes *provider.Result, genProvider string, degraded map[string]bool, meta map[string]interface{}, started time.Time) *AggregatedResult {
	contributing := make([]string, 0, len(rc.PartialResults)+2)
	for id, outcome := range rc.PartialResults {
		if !outcome.IsDegraded() {
			contributing = append(contributing, id)
		}
	}
	if genProvider != "" {
		contributing = append(contributing, genProvider)
	}
	if terminalRes.ProviderID != "" && terminalRes.ProviderID != c.defaultTerminalID {
		contributing = append(contributing, terminalRes.ProviderID)
	}
	sort.Strings(contributing)

	degradedIDs := make([]string, 0, len(degraded))
	for id := range degraded {
		degradedIDs = append(degradedIDs, id)
	}
	sort.Strings(degradedIDs)

	return &AggregatedResult{
		Content:               terminalRes.Content,
		ContributingProviders: contributing,
		DegradedProviders:     degradedIDs,
		BlendWeights:          rc.BlendWeights,
		LatencyMs:             time.Since(started).Milliseconds(),
		Metadata:              meta,
	}
}

// emitCompletion publishes the terminal event for external collaborators
// (persistence, analytics). A publish failure here is logged, never
// surfaced: the caller already has the result.
func (c *Coordinator) emitCompletion(ctx context.Context, requestID string, state State, result *AggregatedResult, log logger.Logger) {
	eventType := bus.TypeOrchestrationCompleted
	if state == StateDegradedCompleted {
		eventType = bus.TypeOrchestrationDegraded
	}
	ev := bus.NewEvent(eventType, "orchestration:"+requestID, sourceComponent, map[string]interface{}{
		"requestId":             requestID,
		"state":                 string(state),
		"contributingProviders": result.ContributingProviders,
		"degradedProviders":     result.DegradedProviders,
		"blendWeights":          result.BlendWeights,
		"latencyMs":             result.LatencyMs,
	})
	if _, err := c.bus.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("completion event publish failed", nil)
	}
}

// requestedKinds resolves the descriptor's kind scope: an empty list means
// the full pipeline, otherwise only the listed stages run.
func requestedKinds(kinds []string) map[provider.Kind]bool {
	out := make(map[provider.Kind]bool, len(provider.KnownKinds))
	if len(kinds) == 0 {
		for _, k := range provider.KnownKinds {
			out[k] = true
		}
		return out
	}
	for _, k := range kinds {
		out[provider.Kind(k)] = true
	}
	return out
}

func (c *Coordinator) addWaiter(requestID string) chan bus.Event {
	ch := make(chan bus.Event, 1)
	c.waitMu.Lock()
	c.waiters[requestID] = ch
	c.waitMu.Unlock()
	return ch
}

func (c *Coordinator) removeWaiter(requestID string) {
	c.waitMu.Lock()
	delete(c.waiters, requestID)
	c.waitMu.Unlock()
}
