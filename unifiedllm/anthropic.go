package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter talks to the Anthropic Messages API with native tool use.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter authenticated with apiKey. Extra
// request options (HTTP client, base URL) are applied after the key. The SDK's
// own retries are disabled; Client owns retry.
func NewAnthropicAdapter(apiKey string, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "anthropic: API key is required"}}
	}
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicAdapter{client: anthropic.NewClient(all...)}, nil
}

// Name returns "anthropic".
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Complete sends one Messages request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return nil, translateAnthropicError(err)
	}
	return anthropicResponse(msg), nil
}

// Stream opens a streaming Messages request. Text arrives as TextDelta
// events; tool calls are reported once the message is complete.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, anthropicParams(req))
	ch := make(chan StreamEvent, 64)
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(StreamEvent{Type: StreamStart}) {
			return
		}
		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				send(StreamEvent{Type: StreamError, Error: &StreamProtocolError{SDKError: SDKError{
					Message: "anthropic: malformed stream", Cause: err,
				}}})
				return
			}
			if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if td, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
					if !send(StreamEvent{Type: TextDelta, Delta: td.Text}) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(StreamEvent{Type: StreamError, Error: translateAnthropicError(err)})
			return
		}

		resp := anthropicResponse(&msg)
		for _, tc := range resp.ToolCalls() {
			if !send(StreamEvent{Type: ToolCallEnd, ToolCall: &tc}) {
				return
			}
		}
		send(StreamEvent{Type: StreamFinish, Usage: &resp.Usage, Response: resp})
	}()
	return ch, nil
}

func anthropicParams(req Request) anthropic.MessageNewParams {
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}
	return params
}

func anthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, t := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		switch req := t.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func anthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range m.Content {
			switch part.Kind {
			case ContentText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case ContentToolCall:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    part.ToolCall.ID,
					Name:  part.ToolCall.Name,
					Input: part.ToolCall.Arguments,
				}})
			case ContentToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID, part.ToolResult.Text(), part.ToolResult.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func anthropicResponse(msg *anthropic.Message) *Response {
	var content []ContentPart
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, TextPart(v.Text))
		case anthropic.ToolUseBlock:
			content = append(content, ToolCallPart(v.ID, v.Name, json.RawMessage(v.JSON.Input.Raw())))
		}
	}

	var stop StopReason
	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		stop = StopToolUse
	case anthropic.StopReasonMaxTokens:
		stop = StopMaxTokens
	default:
		stop = StopEndTurn
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Provider:   ProviderAnthropic,
		Message:    Message{Role: RoleAssistant, Content: content},
		StopReason: stop,
		RawStop:    string(msg.StopReason),
		Usage:      Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

func translateAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter *float64
		if apiErr.Response != nil {
			if s, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil {
				retryAfter = &s
			}
		}
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), ProviderAnthropic, err, retryAfter)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{SDKError: SDKError{Message: "anthropic: network failure", Cause: err}}
	}
	return &ProviderError{
		SDKError:  SDKError{Message: err.Error(), Cause: err},
		Provider:  ProviderAnthropic,
		Retryable: true,
	}
}
