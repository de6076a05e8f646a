// Package unifiedllm provides a provider-agnostic LLM client: one set of
// message, request and response types, an error taxonomy, transparent retry,
// and adapters for the Anthropic, OpenAI-compatible and Gemini APIs.
//
// # Architecture
//
//   - ProviderAdapter: one implementation per backend (AnthropicAdapter,
//     GeminiAdapter, GollmAdapter for OpenAI-compatible providers)
//   - Client: provider routing, middleware, and retry with exponential backoff
//   - Errors: every failure Client reports is an *APIError wrapping a
//     classified cause (RateLimitError, ServerError, AuthenticationError, ...)
//
// # Usage
//
// Clients are always built from explicit configuration; nothing is read from
// the environment:
//
//	adapter, err := unifiedllm.NewAnthropicAdapter(cfg.AnthropicAPIKey)
//	if err != nil {
//	    return err
//	}
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider(unifiedllm.ProviderAnthropic, adapter),
//	    unifiedllm.WithLogger(logger),
//	)
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//
// # Retry
//
// Transient failures (HTTP 408, 429, 5xx, 529 and transport errors) are
// retried up to RetryPolicy.MaxRetries times. A Retry-After hint on a rate
// limit replaces the computed backoff, unless it exceeds MaxDelay, in which
// case the call fails immediately.
package unifiedllm
