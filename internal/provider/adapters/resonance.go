package adapters

import (
	"context"
	"fmt"
	"strings"

	"oracle-orchestrator/internal/provider"
)

// ResonanceAdapter is a context provider that scores the request input by
// keyword resonance: the score is the number of theme keywords present in
// the input, so the blend engine can weight each theme by how strongly the
// request touches it.
type ResonanceAdapter struct {
	Theme    string
	Keywords []string
}

func NewResonanceAdapter(theme string, keywords []string) *ResonanceAdapter {
	return &ResonanceAdapter{Theme: theme, Keywords: keywords}
}

func (a *ResonanceAdapter) Invoke(_ context.Context, req provider.Request) (*provider.Result, error) {
	input := strings.ToLower(req.Input)
	hits := 0
	for _, kw := range a.Keywords {
		if strings.Contains(input, kw) {
			hits++
		}
	}

	return &provider.Result{
		Content: fmt.Sprintf("%s resonance: %d themes present", a.Theme, hits),
		Score:   float64(hits),
		Metadata: map[string]interface{}{
			"theme": a.Theme,
			"hits":  hits,
		},
	}, nil
}

func (a *ResonanceAdapter) Healthy(_ context.Context) bool { return true }
