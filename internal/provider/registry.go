package provider

import (
	"fmt"
	"sort"
	"sync"

	"oracle-orchestrator/internal/common/errors"
)

// floorTolerance absorbs float noise when summing registered floors.
const floorTolerance = 1e-9

// Registry holds the registered provider set. Read-heavy and shared across
// all requests; mutated only at startup registration (or explicit dynamic
// registration), guarded by a single-writer lock. Readers get copied slices,
// never the internal map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register validates the descriptor and re-checks the floor-sum feasibility
// of the descriptor's kind group. Registering a provider whose floor pushes
// the group's floor sum above 1 is rejected here, at configuration time,
// rather than violating the sum invariant at request time.
func (r *Registry) Register(d Descriptor, a Adapter) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if a == nil {
		return errors.NewConfigurationInvalidError(fmt.Sprintf("provider %s: adapter is required", d.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID]; exists {
		return errors.NewConfigurationInvalidError(fmt.Sprintf("provider %s already registered", d.ID))
	}

	floorSum := d.Floor
	for _, e := range r.entries {
		if e.Descriptor.Kind == d.Kind {
			floorSum += e.Descriptor.Floor
		}
	}
	if floorSum > 1+floorTolerance {
		return errors.NewConfigurationInvalidError(
			fmt.Sprintf("kind %s: registered floors sum to %.4f (> 1), constraint set is infeasible", d.Kind, floorSum))
	}

	r.entries[d.ID] = Entry{Descriptor: d, Adapter: a}
	return nil
}

// ValidateFeasibility checks the ceiling side of the constraint set for a
// kind: once registration is complete the group's ceilings must be able to
// reach 1, otherwise no blend can satisfy the sum invariant. Called by the
// coordinator at construction, after all providers are registered.
func (r *Registry) ValidateFeasibility(kind Kind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ceilingSum float64
	count := 0
	for _, e := range r.entries {
		if e.Descriptor.Kind == kind {
			ceilingSum += e.Descriptor.Ceiling
			count++
		}
	}
	if count == 0 {
		return nil
	}
	if ceilingSum < 1-floorTolerance {
		return errors.NewConfigurationInvalidError(
			fmt.Sprintf("kind %s: registered ceilings sum to %.4f (< 1), constraint set is infeasible", kind, ceilingSum))
	}
	return nil
}

// ByKind returns the entries of one kind, sorted by ascending priority then
// id for determinism. The slice is a copy.
func (r *Registry) ByKind(kind Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Descriptor.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Descriptor.Priority != out[j].Descriptor.Priority {
			return out[i].Descriptor.Priority < out[j].Descriptor.Priority
		}
		return out[i].Descriptor.ID < out[j].Descriptor.ID
	})
	return out
}

// Get looks up one entry by id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Snapshot returns every registered entry, sorted by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.ID < out[j].Descriptor.ID })
	return out
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
