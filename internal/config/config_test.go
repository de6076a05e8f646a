package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentrt/agentloop"
	"github.com/martinemde/agentrt/unifiedllm"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, agentloop.DefaultConfig(), cfg.Agent)
	assert.Equal(t, unifiedllm.DefaultModel("anthropic"), cfg.Model())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENTRT_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("AGENTRT_MODEL", "gemini-custom")
	t.Setenv("AGENTRT_MAX_ITERATIONS", "2")
	t.Setenv("AGENTRT_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "g-key", cfg.APIKey())
	assert.Equal(t, "gemini-custom", cfg.Model())
	assert.Equal(t, 2, cfg.Agent.MaxIterations)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Agent:        agentloop.DefaultConfig(),
			Provider:     "openai",
			OpenAIAPIKey: "sk",
			LogLevel:     "info",
			LogFormat:    "text",
			OutputDir:    "out",
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"missing key":      func(c *Config) { c.OpenAIAPIKey = "" },
		"unknown provider": func(c *Config) { c.Provider = "bedrock" },
		"bad log level":    func(c *Config) { c.LogLevel = "trace" },
		"bad log format":   func(c *Config) { c.LogFormat = "xml" },
		"empty output dir": func(c *Config) { c.OutputDir = "" },
		"negative ceiling": func(c *Config) { c.Agent.MaxIterations = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
