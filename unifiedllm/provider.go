package unifiedllm

import (
	"context"

	"github.com/martinemde/agentrt/toolschema"
)

// ProviderAdapter is the interface every provider backend implements.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "gemini").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed after a StreamFinish or StreamError event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// FormatForProvider returns the tool-definition dialect a provider expects.
// Unknown providers get the OpenAI dialect, which most compatible APIs accept.
func FormatForProvider(provider string) toolschema.Format {
	if f, err := toolschema.ParseFormat(provider); err == nil {
		return f
	}
	return toolschema.FormatOpenAI
}
