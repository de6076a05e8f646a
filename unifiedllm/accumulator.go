package unifiedllm

import "strings"

// StreamAccumulator collects stream events into a complete Response. Adapters
// that cannot build a final Response themselves use it to assemble one, and
// consumers can use it to recover a Response from any well-formed stream.
type StreamAccumulator struct {
	text      strings.Builder
	toolCalls []ToolCall
	usage     *Usage
	response  *Response
	err       error
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		sa.text.WriteString(event.Delta)
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.usage = event.Usage
		sa.response = event.Response
	case StreamError:
		sa.err = event.Error
	}
}

// Text returns the text received so far.
func (sa *StreamAccumulator) Text() string {
	return sa.text.String()
}

// Err returns the error carried by a StreamError event, if any.
func (sa *StreamAccumulator) Err() error {
	return sa.err
}

// Response returns the final response if the stream delivered one, otherwise
// a response assembled from the accumulated deltas.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	var content []ContentPart
	if sa.text.Len() > 0 {
		content = append(content, TextPart(sa.text.String()))
	}
	for _, tc := range sa.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	stop := StopEndTurn
	if len(sa.toolCalls) > 0 {
		stop = StopToolUse
	}
	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}
	return &Response{
		Message:    Message{Role: RoleAssistant, Content: content},
		StopReason: stop,
		Usage:      usage,
	}
}
