// Package adapters holds the provider adapter implementations registered
// with the core at startup: LLM-backed synthesis adapters and the
// deterministic static stub used as the last resort of a fallback chain.
package adapters

import (
	"context"

	"oracle-orchestrator/internal/provider"
)

// StaticAdapter returns a fixed result on every invocation. Always healthy;
// it never fails and never times out.
type StaticAdapter struct {
	Content string
	Score   float64
}

func NewStaticAdapter(content string) *StaticAdapter {
	return &StaticAdapter{Content: content, Score: 1}
}

func (a *StaticAdapter) Invoke(_ context.Context, req provider.Request) (*provider.Result, error) {
	return &provider.Result{
		Content: a.Content,
		Score:   a.Score,
		Metadata: map[string]interface{}{
			"requestId": req.RequestID,
			"static":    true,
		},
	}, nil
}

func (a *StaticAdapter) Healthy(_ context.Context) bool { return true }
