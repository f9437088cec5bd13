package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"oracle-orchestrator/internal/provider"
)

// AnthropicAdapter drives synthesis through the Anthropic Messages API.
type AnthropicAdapter struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// AnthropicOptions configures the adapter; extend via functional options.
type AnthropicOptions struct {
	APIKey    string
	Model     anthropic.Model
	MaxTokens int64
}

func NewAnthropicAdapter(optFns ...func(o *AnthropicOptions)) *AnthropicAdapter {
	opts := AnthropicOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicAdapter{
		client:    &client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, req provider.Request) (*provider.Result, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	return &provider.Result{
		Content: sb.String(),
		Score:   1,
		Metadata: map[string]interface{}{
			"model":      string(a.model),
			"stopReason": string(resp.StopReason),
		},
	}, nil
}

// Healthy reports reachability. The SDK has no dedicated ping; an empty
// client configuration is the only local failure mode worth reporting.
func (a *AnthropicAdapter) Healthy(_ context.Context) bool {
	return a.client != nil
}

// buildPrompt folds the blended weights into the instruction so the
// synthesis provider shapes its answer by each source's share.
func buildPrompt(req provider.Request) string {
	if len(req.Weights) == 0 {
		return req.Input
	}
	var sb strings.Builder
	sb.WriteString(req.Input)
	sb.WriteString("\n\nSource weighting:")
	for id, w := range req.Weights {
		fmt.Fprintf(&sb, "\n- %s: %.4f", id, w)
	}
	return sb.String()
}
