// Package config loads the agentrt CLI configuration from the environment.
// It is the only place credentials are read; adapters receive them
// explicitly.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/martinemde/agentrt/agentloop"
	"github.com/martinemde/agentrt/unifiedllm"
)

// Config is the CLI configuration. Runtime tunables live in Agent and use
// the AGENTRT_* variables documented on agentloop.Config.
type Config struct {
	Agent agentloop.Config

	Provider string `env:"AGENTRT_PROVIDER" envDefault:"anthropic" validate:"oneof=anthropic openai gemini"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" validate:"required_if=Provider anthropic"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY" validate:"required_if=Provider openai"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY" validate:"required_if=Provider gemini"`

	LogLevel  string `env:"AGENTRT_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"AGENTRT_LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	OutputDir string `env:"AGENTRT_OUTPUT_DIR" envDefault:"output" validate:"required"`
}

// Load parses the environment into a Config. It does not validate, so that
// command-line flags can be applied first.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field, including the nested runtime config, and that
// the selected provider has an API key.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	switch c.Provider {
	case unifiedllm.ProviderAnthropic:
		return c.AnthropicAPIKey
	case unifiedllm.ProviderOpenAI:
		return c.OpenAIAPIKey
	case unifiedllm.ProviderGemini:
		return c.GeminiAPIKey
	}
	return ""
}

// Model returns the configured model, or the provider's catalog default.
func (c Config) Model() string {
	if c.Agent.Model != "" {
		return c.Agent.Model
	}
	return unifiedllm.DefaultModel(c.Provider)
}
