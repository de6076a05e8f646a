package unifiedllm

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind is the discriminator tag for ContentPart.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// ToolCallData is a model-initiated tool invocation.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultData is the resolved outcome of one ToolCallData, paired by ID.
// Content is the JSON-encoded text shown to the model.
type ToolResultData struct {
	ToolCallID  string          `json:"tool_call_id"`
	Name        string          `json:"name,omitempty"`
	Content     json.RawMessage `json:"content"`
	IsError     bool            `json:"is_error"`
	Recoverable bool            `json:"recoverable,omitempty"`
}

// Text decodes Content as a JSON string, falling back to the raw bytes.
func (r ToolResultData) Text() string {
	var s string
	if err := json.Unmarshal(r.Content, &s); err == nil {
		return s
	}
	return string(r.Content)
}

// ContentPart is a tagged union representing one block of a message.
type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ToolCallPart creates a tool call ContentPart.
func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ContentPart{
		Kind:     ContentToolCall,
		ToolCall: &ToolCallData{ID: id, Name: name, Arguments: args},
	}
}

// ToolResultPart creates a tool result ContentPart carrying text content.
func ToolResultPart(toolCallID, name, content string, isError bool) ContentPart {
	raw, _ := json.Marshal(content)
	return ContentPart{
		Kind: ContentToolResult,
		ToolResult: &ToolResultData{
			ToolCallID: toolCallID,
			Name:       name,
			Content:    raw,
			IsError:    isError,
		},
	}
}

// Message is the fundamental unit of conversation.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextContent returns the concatenation of all text content parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts tool calls in the order the model emitted them.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, part := range m.Content {
		if part.Kind == ContentToolCall && part.ToolCall != nil {
			calls = append(calls, ToolCall{
				ID:        part.ToolCall.ID,
				Name:      part.ToolCall.Name,
				Arguments: part.ToolCall.Arguments,
			})
		}
	}
	return calls
}

// ToolResults extracts tool result blocks from the message.
func (m Message) ToolResults() []ToolResultData {
	var results []ToolResultData
	for _, part := range m.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			results = append(results, *part.ToolResult)
		}
	}
	return results
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: make([]ContentPart, len(m.Content))}
	for i, part := range m.Content {
		cp := part
		if part.ToolCall != nil {
			tc := *part.ToolCall
			tc.Arguments = append(json.RawMessage(nil), part.ToolCall.Arguments...)
			cp.ToolCall = &tc
		}
		if part.ToolResult != nil {
			tr := *part.ToolResult
			tr.Content = append(json.RawMessage(nil), part.ToolResult.Content...)
			cp.ToolResult = &tr
		}
		out.Content[i] = cp
	}
	return out
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// ToolCall is extracted from a model response.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model. Parameters is a JSON
// Schema object already shaped for the target provider's dialect.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// StopReason describes why generation stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Usage reports token consumption for a single response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Request is the input for both Complete and Stream.
type Request struct {
	Model       string            `json:"model"`
	Provider    string            `json:"provider,omitempty"`
	System      string            `json:"system,omitempty"`
	Messages    []Message         `json:"messages"`
	Tools       []ToolDefinition  `json:"tools,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Response is the output of Complete, and the final payload of a stream.
type Response struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Provider   string     `json:"provider"`
	Message    Message    `json:"message"`
	StopReason StopReason `json:"stop_reason"`
	RawStop    string     `json:"raw_stop,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Text returns the concatenated text of the response message.
func (r Response) Text() string {
	return r.Message.TextContent()
}

// ToolCalls returns the tool calls in the response message.
func (r Response) ToolCalls() []ToolCall {
	return r.Message.ToolCalls()
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamStart  StreamEventType = "stream_start"
	TextDelta    StreamEventType = "text_delta"
	ToolCallEnd  StreamEventType = "tool_call_end"
	StreamFinish StreamEventType = "finish"
	StreamError  StreamEventType = "error"
)

// StreamEvent is a single event from a streaming response. A well-formed
// stream ends with exactly one StreamFinish (carrying Response) or StreamError.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Usage    *Usage          `json:"usage,omitempty"`
	Response *Response       `json:"response,omitempty"`
	Error    error           `json:"-"`
}
