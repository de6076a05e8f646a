package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Provider identifiers used by the bundled adapters.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Models is the built-in model catalog. The first entry for each provider is
// its default.
var Models = []ModelInfo{
	{
		ID: "claude-sonnet-4-5", Provider: ProviderAnthropic, DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-opus-4-1", Provider: ProviderAnthropic, DisplayName: "Claude Opus 4.1",
		ContextWindow: 200000, MaxOutput: 32768, SupportsTools: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-haiku-4-5", Provider: ProviderAnthropic, DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 8192, SupportsTools: true,
		Aliases: []string{"haiku"},
	},
	{
		ID: "gpt-4o-mini", Provider: ProviderOpenAI, DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4o", Provider: ProviderOpenAI, DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"4o"},
	},
	{
		ID: "gemini-2.5-flash", Provider: ProviderGemini, DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: 65536, SupportsTools: true,
		Aliases: []string{"gemini-flash"},
	},
	{
		ID: "gemini-2.5-pro", Provider: ProviderGemini, DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: 65536, SupportsTools: true,
		Aliases: []string{"gemini-pro"},
	},
}

// GetModelInfo returns the catalog entry for a model id or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical id. Unknown ids pass through.
func ResolveModel(modelID string) string {
	if info := GetModelInfo(modelID); info != nil {
		return info.ID
	}
	return modelID
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the default model for a provider, or nil. When
// toolsOnly is set, models without tool support are skipped.
func GetLatestModel(provider string, toolsOnly bool) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		if toolsOnly && !Models[i].SupportsTools {
			continue
		}
		return &Models[i]
	}
	return nil
}

// DefaultModel returns the default model id for a provider, or "".
func DefaultModel(provider string) string {
	if info := GetLatestModel(provider, true); info != nil {
		return info.ID
	}
	return ""
}
