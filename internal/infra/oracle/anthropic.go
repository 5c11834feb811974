// internal/infra/oracle/anthropic.go
package oracle

import (
	"context"
	"fmt"
	"strings"

	"scheduling_autopilot/internal/domain/intent"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOptions configures the Anthropic oracle.
type AnthropicOptions struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// AnthropicOracle classifies replies with the Anthropic Messages API.
type AnthropicOracle struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

func NewAnthropicOracle(optFns ...func(o *AnthropicOptions)) *AnthropicOracle {
	opts := AnthropicOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 512,
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
	// retries are owned by the autopilot, across batches
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	client := anthropic.NewClient(clientOpts...)
	return &AnthropicOracle{client: &client, opts: opts}
}

func (o *AnthropicOracle) Classify(ctx context.Context, in intent.Input) (*intent.Result, error) {
	resp, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(in))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return ParseAnswer(text.String(), in.Timezone)
}
