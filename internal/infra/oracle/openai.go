// internal/infra/oracle/openai.go
package oracle

import (
	"context"
	"fmt"

	"scheduling_autopilot/internal/domain/intent"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures the OpenAI oracle.
type OpenAIOptions struct {
	Model               string
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// OpenAIOracle classifies replies with the OpenAI Chat Completions API.
type OpenAIOracle struct {
	client *openai.Client
	opts   OpenAIOptions
}

func NewOpenAIOracle(optFns ...func(o *OpenAIOptions)) *OpenAIOracle {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 512,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	client := openai.NewClient(clientOpts...)
	return &OpenAIOracle{client: &client, opts: opts}
}

func (o *OpenAIOracle) Classify(ctx context.Context, in intent.Input) (*intent.Result, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               o.opts.Model,
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(o.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(in)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	return ParseAnswer(resp.Choices[0].Message.Content, in.Timezone)
}
