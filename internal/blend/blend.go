// Package blend implements constrained weight normalization: raw per-source
// scores become a weight vector that sums to 1 while every source stays
// inside its configured floor/ceiling band. A failing source is pinned to
// its floor instead of being zeroed, so no contributor ever silently
// collapses out of the aggregate.
//
// The same engine serves both call sites in the system: crediting
// knowledge/context sources and weighting persona/voice shaping.
package blend

import (
	"math"
	"sort"

	"oracle-orchestrator/internal/common/errors"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/metrics"
)

const (
	// sumTolerance is the acceptable deviation of the final weight sum from 1.
	sumTolerance = 1e-6
	// convergeTolerance stops redistribution once the residual is negligible.
	convergeTolerance = 1e-9
	// precision rounds final weights to 4 decimal places for reproducibility.
	precision = 1e4
)

// Constraint is the permissible weight band for one source.
type Constraint struct {
	Floor   float64
	Ceiling float64
}

type Engine struct {
	logger logger.Logger
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{logger: log.WithFields(map[string]interface{}{"component": "blend-engine"})}
}

// Blend produces the constrained weight vector. Degraded sources are pinned
// to exactly their floor. The returned error is non-nil only in the one
// legitimate sum-violation case: every source pinned at a bound with no
// room to redistribute. The weights are still returned and usable; the
// caller flags the response degraded.
func (e *Engine) Blend(raw map[string]float64, constraints map[string]Constraint, degraded map[string]bool) (map[string]float64, error) {
	n := len(raw)
	if n == 0 {
		return map[string]float64{}, nil
	}

	ids := make([]string, 0, n)
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Step 1: normalize raw scores; all-zero input distributes uniformly.
	var total float64
	for _, id := range ids {
		if raw[id] > 0 {
			total += raw[id]
		}
	}
	weights := make(map[string]float64, n)
	for _, id := range ids {
		if total == 0 {
			weights[id] = 1 / float64(n)
		} else if raw[id] > 0 {
			weights[id] = raw[id] / total
		}
	}

	// Step 2: clamp. Degraded sources are pinned at their floor and take no
	// part in redistribution.
	for _, id := range ids {
		c := constraints[id]
		if degraded[id] {
			weights[id] = c.Floor
			continue
		}
		weights[id] = clamp(weights[id], c.Floor, c.Ceiling)
	}

	// Step 3: redistribute surplus/deficit among sources not pinned at the
	// bound blocking them, until converged or everything is pinned.
	for iter := 0; iter <= n; iter++ {
		var sum float64
		for _, id := range ids {
			sum += weights[id]
		}
		diff := 1 - sum
		if math.Abs(diff) <= convergeTolerance {
			break
		}

		free, freeTotal := e.freeSet(ids, weights, constraints, degraded, diff)
		if len(free) == 0 {
			// All pinned: the only case where the sum invariant may stand
			// violated. Return what we have, flagged.
			rounded := round(ids, weights)
			e.logger.Warn("all sources pinned, weight sum invariant violated", map[string]interface{}{
				"sum": sum,
			})
			metrics.BlendPinnedExhausted.Inc()
			return rounded, errors.NewAggregationInvariantError(sum)
		}

		for _, id := range free {
			c := constraints[id]
			var share float64
			if freeTotal > 0 {
				share = diff * (weights[id] / freeTotal)
			} else {
				share = diff / float64(len(free))
			}
			weights[id] = clamp(weights[id]+share, c.Floor, c.Ceiling)
		}
	}

	out := round(ids, weights)
	e.fixResidual(ids, out, constraints, degraded)
	return out, nil
}

// freeSet returns the sources that can still absorb (diff > 0) or give up
// (diff < 0) weight, and the sum of their current weights.
func (e *Engine) freeSet(ids []string, weights map[string]float64, constraints map[string]Constraint, degraded map[string]bool, diff float64) ([]string, float64) {
	var free []string
	var freeTotal float64
	for _, id := range ids {
		if degraded[id] {
			continue
		}
		c := constraints[id]
		if diff > 0 && weights[id] < c.Ceiling-convergeTolerance {
			free = append(free, id)
			freeTotal += weights[id]
		} else if diff < 0 && weights[id] > c.Floor+convergeTolerance {
			free = append(free, id)
			freeTotal += weights[id]
		}
	}
	return free, freeTotal
}

// fixResidual pushes rounding drift onto the largest source that still has
// room, so the published vector sums to 1 exactly when feasible.
func (e *Engine) fixResidual(ids []string, weights map[string]float64, constraints map[string]Constraint, degraded map[string]bool) {
	var sum float64
	for _, id := range ids {
		sum += weights[id]
	}
	residual := math.Round((1-sum)*precision) / precision
	if residual == 0 || math.Abs(residual) > 0.01 {
		return
	}

	best := ""
	for _, id := range ids {
		if degraded[id] {
			continue
		}
		c := constraints[id]
		adjusted := weights[id] + residual
		if adjusted < c.Floor-sumTolerance || adjusted > c.Ceiling+sumTolerance {
			continue
		}
		if best == "" || weights[id] > weights[best] {
			best = id
		}
	}
	if best != "" {
		weights[best] = math.Round((weights[best]+residual)*precision) / precision
	}
}

func round(ids []string, weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = math.Round(weights[id]*precision) / precision
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
