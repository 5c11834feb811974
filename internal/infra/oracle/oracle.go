// internal/infra/oracle/oracle.go
package oracle

import (
	"fmt"

	"scheduling_autopilot/internal/domain/intent"

	"github.com/anthropics/anthropic-sdk-go"
)

// New builds the oracle for the configured provider.
func New(provider, model, anthropicKey, openAIKey string) (intent.Oracle, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicOracle(func(o *AnthropicOptions) {
			o.APIKey = anthropicKey
			if model != "" {
				o.Model = anthropic.Model(model)
			}
		}), nil
	case "openai":
		return NewOpenAIOracle(func(o *OpenAIOptions) {
			o.APIKey = openAIKey
			if model != "" {
				o.Model = model
			}
		}), nil
	}
	return nil, fmt.Errorf("unknown oracle provider %q", provider)
}
