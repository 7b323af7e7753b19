package llm

import (
	"fmt"
	"strings"
	"time"
)

// FactoryConfig holds the parameters needed to create a Generator.
// It mirrors config.LLMConfig so this package stays free of infrastructure
// dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai", "anthropic" or "none").
	Provider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// RetryDelay is the base delay between retries (zero keeps the provider default).
	RetryDelay time.Duration
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
}

// NewGenerator creates a Generator based on the configuration. Provider
// "none" or "" returns a nil Generator, leaving query planning to the
// heuristic.
func NewGenerator(cfg FactoryConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		p := NewOpenAIProvider(cfg.OpenAI, cfg.Temperature, cfg.Timeout, cfg.MaxRetries)
		if cfg.RetryDelay > 0 {
			p.retryDelay = cfg.RetryDelay
		}
		return p, nil
	case "anthropic":
		p := NewAnthropicProvider(cfg.Anthropic, cfg.Temperature, cfg.Timeout, cfg.MaxRetries)
		if cfg.RetryDelay > 0 {
			p.retryDelay = cfg.RetryDelay
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
