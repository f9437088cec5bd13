package adapters

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"oracle-orchestrator/internal/provider"
)

// OpenAIAdapter drives synthesis through the OpenAI Chat Completions API.
// Registered behind the Anthropic adapter as the secondary cloud provider.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

// OpenAIOptions configures the adapter.
type OpenAIOptions struct {
	APIKey string
	Model  string
}

func NewOpenAIAdapter(optFns ...func(o *OpenAIOptions)) *OpenAIAdapter {
	opts := OpenAIOptions{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAIAdapter{
		client: &client,
		model:  opts.Model,
	}
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, req provider.Request) (*provider.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildPrompt(req)),
		},
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &provider.Result{
		Content: resp.Choices[0].Message.Content,
		Score:   1,
		Metadata: map[string]interface{}{
			"model":        a.model,
			"finishReason": string(resp.Choices[0].FinishReason),
		},
	}, nil
}

func (a *OpenAIAdapter) Healthy(_ context.Context) bool {
	return a.client != nil
}
