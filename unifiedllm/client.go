package unifiedllm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client routes requests to registered provider adapters, applies middleware
// and retries transient failures. Callers see one logical call per Complete or
// Stream regardless of how many attempts were made underneath.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	retry           RetryPolicy
	logger          *slog.Logger
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		retry:     DefaultRetryPolicy(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// resolveProvider determines which provider adapter to use for a request.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

func (c *Client) policy(provider string) RetryPolicy {
	p := c.retry
	onRetry := p.OnRetry
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn("retrying LLM call",
			"provider", provider,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if onRetry != nil {
			onRetry(err, attempt, delay)
		}
	}
	return p
}

// Complete sends a blocking request through middleware to the resolved
// provider, retrying transient failures. A returned error is always an
// *APIError with Retryable false, or a *ConfigurationError.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}
	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	resp, attempts, err := Retry(ctx, c.policy(req.Provider), func(ctx context.Context) (*Response, error) {
		return handler(ctx, req)
	})
	if err != nil {
		return nil, terminalError(req.Provider, attempts, err)
	}
	return resp, nil
}

// Stream sends a streaming request through middleware to the resolved
// provider. Establishing the stream is retried, and so is a stream whose first
// event after StreamStart is a retryable error. Once any content has been
// delivered a failure is reported in-band as a StreamError carrying an
// *APIError.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}
	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	// Adapters announce StreamStart before the provider has answered, so the
	// retry decision waits for the first event after it.
	type opened struct {
		ch   <-chan StreamEvent
		head []StreamEvent
		open bool
	}
	o, attempts, err := Retry(ctx, c.policy(req.Provider), func(ctx context.Context) (opened, error) {
		ch, err := handler(ctx, req)
		if err != nil {
			return opened{}, err
		}
		var head []StreamEvent
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return opened{head: head}, nil
				}
				if ev.Type == StreamStart {
					head = append(head, ev)
					continue
				}
				if ev.Type == StreamError && ev.Error != nil {
					return opened{}, ev.Error
				}
				return opened{ch: ch, head: append(head, ev), open: true}, nil
			case <-ctx.Done():
				return opened{}, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
			}
		}
	})
	if err != nil {
		return nil, terminalError(req.Provider, attempts, err)
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		emit := func(ev StreamEvent) bool {
			if ev.Type == StreamError && ev.Error != nil {
				ev.Error = terminalError(req.Provider, attempts, ev.Error)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
			return ev.Type != StreamFinish && ev.Type != StreamError
		}
		for _, ev := range o.head {
			if !emit(ev) {
				return
			}
		}
		if !o.open {
			return
		}
		for {
			select {
			case ev, ok := <-o.ch:
				if !ok || !emit(ev) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// terminalError wraps err as a non-retryable *APIError unless it is already
// one or is a configuration problem.
func terminalError(provider string, attempts int, err error) error {
	if _, ok := err.(*APIError); ok {
		return err
	}
	if _, ok := err.(*ConfigurationError); ok {
		return err
	}
	return &APIError{
		Provider:   provider,
		StatusCode: statusCodeOf(err),
		Attempts:   attempts,
		Retryable:  false,
		Err:        err,
	}
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoggingMiddleware logs each provider call and its outcome.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		attrs := []any{
			"provider", req.Provider,
			"model", req.Model,
			"messages", len(req.Messages),
			"tools", len(req.Tools),
			"duration", time.Since(start),
		}
		if err != nil {
			logger.ErrorContext(ctx, "llm call failed", append(attrs, "error", err)...)
			return nil, err
		}
		logger.DebugContext(ctx, "llm call complete", append(attrs,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)...)
		return resp, nil
	}
}
