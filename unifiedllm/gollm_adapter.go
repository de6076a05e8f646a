package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves OpenAI-compatible providers through gollm. Tool
// definitions are sent in the OpenAI function format; gollm returns plain text,
// so tool calls are recovered from JSON the model embeds in its reply.
type GollmAdapter struct {
	provider string
	model    string
	backend  gollmBackend
	count    TokenCounter
}

// gollmBackend is the slice of gollm.LLM the adapter relies on, captured as
// closures so the adapter can be exercised without a live provider.
type gollmBackend struct {
	generate          func(ctx context.Context, p *gollm.Prompt) (string, error)
	stream            func(ctx context.Context, p *gollm.Prompt) (tokenStream, error)
	supportsStreaming func() bool
	setOption         func(key string, value any)
}

type tokenStream interface {
	// Next returns the next chunk of text, or io.EOF at the end.
	Next(ctx context.Context) (string, error)
	Close()
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	counter     TokenCounter
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithTokenCounter overrides how usage is estimated.
func WithTokenCounter(fn TokenCounter) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.counter = fn
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates an adapter for provider using an explicit API key.
// The key is required; nothing is read from the environment.
func NewGollmAdapter(provider, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("%s: API key is required", provider),
		}}
	}
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if cfg.counter == nil {
		cfg.counter = TiktokenCounter(model)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to Client
		gollm.SetLogLevel(gollm.LogLevelWarn),
		gollm.SetAPIKey(apiKey),
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		model:    model,
		backend:  backendFromLLM(llm),
		count:    cfg.counter,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		model:    model,
		backend:  backendFromLLM(llm),
		count:    HeuristicTokens,
	}
}

func backendFromLLM(llm gollm.LLM) gollmBackend {
	return gollmBackend{
		generate: func(ctx context.Context, p *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, p)
		},
		stream: func(ctx context.Context, p *gollm.Prompt) (tokenStream, error) {
			s, err := llm.Stream(ctx, p)
			if err != nil {
				return nil, err
			}
			return &gollmTokenStream{
				next: func(ctx context.Context) (string, error) {
					tok, err := s.Next(ctx)
					if err != nil {
						return "", err
					}
					if tok == nil {
						return "", nil
					}
					return tok.Text, nil
				},
				close: func() { s.Close() },
			}, nil
		},
		supportsStreaming: llm.SupportsStreaming,
		setOption:         llm.SetOption,
	}
}

type gollmTokenStream struct {
	next  func(ctx context.Context) (string, error)
	close func()
}

func (s *gollmTokenStream) Next(ctx context.Context) (string, error) { return s.next(ctx) }
func (s *gollmTokenStream) Close()                                   { s.close() }

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	a.applyRequestOptions(req)
	text, err := a.backend.generate(ctx, a.translateRequest(req))
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvents.
// Text that turns out to be a tool-call payload is still delivered as deltas;
// the final Response carries the parsed calls.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if a.backend.supportsStreaming == nil || !a.backend.supportsStreaming() {
		// Fallback: generate the full response and emit it as one delta.
		go func() {
			defer close(ch)
			text, err := a.backend.generate(ctx, prompt)
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			resp := a.buildResponse(req, text)
			if !send(StreamEvent{Type: StreamStart}) {
				return
			}
			if t := resp.Text(); t != "" && !send(StreamEvent{Type: TextDelta, Delta: t}) {
				return
			}
			send(StreamEvent{Type: StreamFinish, Usage: &resp.Usage, Response: resp})
		}()
		return ch, nil
	}

	stream, err := a.backend.stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(StreamEvent{Type: StreamStart}) {
			return
		}
		// Text that may belong to a tool-call payload is held back so the
		// deltas always concatenate to the final response text.
		var full strings.Builder
		sent := 0
		for {
			chunk, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			if chunk == "" {
				continue
			}
			full.WriteString(chunk)
			text := full.String()
			if n := visibleLen(text); n > sent {
				if !send(StreamEvent{Type: TextDelta, Delta: text[sent:n]}) {
					return
				}
				sent = n
			}
		}

		text := full.String()
		resp := a.buildResponse(req, text)
		if final := resp.Text(); len(final) > sent && strings.HasPrefix(final, text[:sent]) {
			if !send(StreamEvent{Type: TextDelta, Delta: final[sent:]}) {
				return
			}
		}
		send(StreamEvent{Type: StreamFinish, Usage: &resp.Usage, Response: resp})
	}()

	return ch, nil
}

// gollmTools renders tool definitions in the OpenAI function format.
func gollmTools(defs []ToolDefinition) []gollm.Tool {
	tools := make([]gollm.Tool, 0, len(defs))
	for _, t := range defs {
		tools = append(tools, gollm.Tool{
			Type: "function",
			Function: gollm.Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return tools
}

// translateRequest converts a unified Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	promptOpts := []gollm.PromptOption{}
	if req.System != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(req.System, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		promptOpts = append(promptOpts,
			gollm.WithTools(gollmTools(req.Tools)),
			gollm.WithToolChoice("auto"),
		)
	}
	return gollm.NewPrompt(transcript(req.Messages), promptOpts...)
}

// transcript flattens the conversation into a single prompt, since gollm
// accepts one input string per call.
func transcript(messages []Message) string {
	var parts []string
	for _, msg := range messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				if part.Text == "" {
					continue
				}
				if msg.Role == RoleAssistant {
					parts = append(parts, "[Assistant]: "+part.Text)
				} else {
					parts = append(parts, part.Text)
				}
			case ContentToolCall:
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)",
					part.ToolCall.ID, part.ToolCall.Name, string(part.ToolCall.Arguments)))
			case ContentToolResult:
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				parts = append(parts, prefix+": "+part.ToolResult.Text())
			}
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = "Hello"
	}
	return text
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if a.backend.setOption == nil {
		return
	}
	if req.Model != "" {
		a.backend.setOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.backend.setOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.backend.setOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, cleaned := parseToolCalls(text)
	var content []ContentPart
	if cleaned != "" {
		content = append(content, TextPart(cleaned))
	}
	for _, tc := range calls {
		content = append(content, ContentPart{Kind: ContentToolCall, ToolCall: &tc})
	}

	stop := StopEndTurn
	if len(calls) > 0 {
		stop = StopToolUse
	}

	count := a.count
	if count == nil {
		count = HeuristicTokens
	}
	in := estimateRequestTokens(req, count)
	out := count(text)

	return &Response{
		ID:         "resp_" + uuid.NewString()[:8],
		Model:      model,
		Provider:   a.provider,
		Message:    Message{Role: RoleAssistant, Content: content},
		StopReason: stop,
		RawStop:    string(stop),
		Usage:      Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// parseToolCalls finds a tool-call payload embedded in the reply, either
// {"tool_calls": [...]} or a bare [{"name": ...}] array, and returns the calls
// plus the text preceding the payload with trailing whitespace removed.
func parseToolCalls(text string) ([]ToolCallData, string) {
	start := strings.Index(text, `{"tool_calls"`)
	wrapped := start != -1
	if !wrapped {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil, text
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw []rawToolCall
	if wrapped {
		var env struct {
			ToolCalls []rawToolCall `json:"tool_calls"`
		}
		if err := dec.Decode(&env); err != nil {
			return nil, text
		}
		raw = env.ToolCalls
	} else if err := dec.Decode(&raw); err != nil {
		return nil, text
	}

	calls := make([]ToolCallData, 0, len(raw))
	for _, rc := range raw {
		name, args := rc.Name, rc.Arguments
		if rc.Function != nil {
			name, args = rc.Function.Name, rc.Function.Arguments
		}
		if name == "" {
			continue
		}
		// OpenAI encodes arguments as a JSON string holding an object.
		var s string
		if err := json.Unmarshal(args, &s); err == nil {
			args = json.RawMessage(s)
		}
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		id := rc.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		calls = append(calls, ToolCallData{ID: id, Name: name, Arguments: args})
	}
	if len(calls) == 0 {
		return nil, text
	}
	return calls, strings.TrimRightFunc(text[:start], unicode.IsSpace)
}

var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// visibleLen returns how much of a partial reply is certain to survive
// parseToolCalls: everything before the first payload marker, or before a
// trailing fragment that could grow into one, minus trailing whitespace.
func visibleLen(text string) int {
	limit := len(text)
	for _, m := range toolCallMarkers {
		if i := strings.Index(text, m); i != -1 && i < limit {
			limit = i
		}
		for k := min(len(m)-1, len(text)); k > 0; k-- {
			if strings.HasSuffix(text, m[:k]) {
				limit = min(limit, len(text)-k)
				break
			}
		}
	}
	return len(strings.TrimRightFunc(text[:limit], unicode.IsSpace))
}

// translateError converts a gollm error into the unified error hierarchy.
// gollm surfaces provider failures as formatted strings, so classification
// goes by message content.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	status := 0
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		status = 401
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		status = 403
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		status = 404
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		status = 429
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		status = 413
	case strings.Contains(lower, "529") || strings.Contains(lower, "overloaded"):
		status = 529
	case strings.Contains(lower, "503") || strings.Contains(lower, "unavailable"):
		status = 503
	case strings.Contains(lower, "502") || strings.Contains(lower, "bad gateway"):
		status = 502
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		status = 500
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	}
	if status != 0 {
		return ErrorFromStatusCode(status, msg, a.provider, err, nil)
	}
	return &ProviderError{
		SDKError:  SDKError{Message: msg, Cause: err},
		Provider:  a.provider,
		Retryable: true,
	}
}
