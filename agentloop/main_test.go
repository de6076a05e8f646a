package agentloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/martinemde/agentrt/unifiedllm"
)

func TestMain(m *testing.M) {
	// genai links in opencensus, whose view worker starts in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedClient replays responses in order; the last one repeats. errs[i],
// when set, fails call i instead.
type scriptedClient struct {
	mu       sync.Mutex
	turns    []*unifiedllm.Response
	errs     []error
	calls    int
	requests []unifiedllm.Request
}

func script(turns ...*unifiedllm.Response) *scriptedClient {
	return &scriptedClient{turns: turns}
}

func (c *scriptedClient) next(req unifiedllm.Request) (*unifiedllm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.turns) {
		i = len(c.turns) - 1
	}
	return c.turns[i], nil
}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	return c.next(req)
}

// Stream splits the scripted text into three-byte deltas.
func (c *scriptedClient) Stream(_ context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	resp, err := c.next(req)
	if err != nil {
		return nil, err
	}
	events := []unifiedllm.StreamEvent{{Type: unifiedllm.StreamStart}}
	text := resp.Text()
	for len(text) > 0 {
		n := min(3, len(text))
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: text[:n]})
		text = text[n:]
	}
	for _, tc := range resp.ToolCalls() {
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.ToolCallEnd, ToolCall: &tc})
	}
	events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamFinish, Response: resp, Usage: &resp.Usage})

	ch := make(chan unifiedllm.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func call(id, name, args string) unifiedllm.ToolCall {
	return unifiedllm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolUse(text string, calls ...unifiedllm.ToolCall) *unifiedllm.Response {
	var content []unifiedllm.ContentPart
	if text != "" {
		content = append(content, unifiedllm.TextPart(text))
	}
	for _, c := range calls {
		content = append(content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{
		Message:    unifiedllm.Message{Role: unifiedllm.RoleAssistant, Content: content},
		StopReason: unifiedllm.StopToolUse,
	}
}

func final(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:    unifiedllm.AssistantMessage(text),
		StopReason: unifiedllm.StopEndTurn,
	}
}

func newTestRuntime(t *testing.T, client LLMClient, reg *Registry, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(client, reg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func withMaxIterations(n int) Option {
	cfg := DefaultConfig()
	cfg.MaxIterations = n
	return WithConfig(cfg)
}
