package llm

import (
	"fmt"

	"jobpilot/pkg/config"
)

// NewClient builds a completion client from an LLM configuration block.
func NewClient(cfg *config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicClient(cfg.APIKey, cfg.Model), nil
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Model), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.Host, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
