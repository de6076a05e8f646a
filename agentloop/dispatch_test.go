package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentrt/toolschema"
	"github.com/martinemde/agentrt/unifiedllm"
)

func TestDispatchPreservesCallOrder(t *testing.T) {
	multiplied := make(chan struct{})
	add := MustNewTool("add", "add",
		func(ctx context.Context, _ *ToolContext, in ArithmeticInput) (NumberOutput, error) {
			select {
			case <-multiplied:
			case <-ctx.Done():
				return NumberOutput{}, ctx.Err()
			}
			return NumberOutput{Result: in.A + in.B}, nil
		})
	multiply := MustNewTool("multiply", "multiply",
		func(_ context.Context, _ *ToolContext, in ArithmeticInput) (NumberOutput, error) {
			defer close(multiplied)
			return NumberOutput{Result: in.A * in.B}, nil
		})
	reg := NewRegistry()
	reg.MustRegister(add, multiply)
	d := NewDispatcher(reg, WithToolTimeout(5*time.Second))

	results := d.Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{
		call("a", "add", `{"a":1,"b":2}`),
		call("m", "multiply", `{"a":3,"b":4}`),
	})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].CallID)
	assert.Equal(t, `{"result":3}`, results[0].Content)
	assert.Equal(t, "m", results[1].CallID)
	assert.Equal(t, `{"result":12}`, results[1].Content)
}

func TestDispatchFailures(t *testing.T) {
	var invoked atomic.Int32
	counted := MustNewTool("counted", "counts",
		func(_ context.Context, _ *ToolContext, in ArithmeticInput) (NumberOutput, error) {
			invoked.Add(1)
			return NumberOutput{Result: in.A}, nil
		})
	panicky := MustNewTool("panicky", "panics",
		func(context.Context, *ToolContext, struct{}) (NumberOutput, error) {
			panic("kaboom")
		})
	recoverable := MustNewTool("picky", "rejects input",
		func(context.Context, *ToolContext, struct{}) (NumberOutput, error) {
			return NumberOutput{}, RecoverableError("picky", "try a smaller number")
		})
	reg := NewRegistry()
	reg.MustRegister(counted, panicky, recoverable)
	d := NewDispatcher(reg)

	tests := []struct {
		name        string
		call        unifiedllm.ToolCall
		contains    string
		recoverable bool
	}{
		{"unknown tool", call("1", "nope", `{}`), "unknown tool: nope", true},
		{"schema violation", call("2", "counted", `{"a":"three","b":1}`), "Error:", true},
		{"missing field", call("3", "counted", `{"a":1}`), "Error:", true},
		{"invalid json", call("4", "counted", `{"a":`), "Error:", true},
		{"panic", call("5", "panicky", `{}`), "panic: kaboom", false},
		{"recoverable tool error", call("6", "picky", `{}`), "Error: try a smaller number", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := d.Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{tt.call})
			require.Len(t, results, 1)
			r := results[0]
			assert.True(t, r.IsError())
			assert.Equal(t, tt.call.ID, r.CallID)
			assert.Contains(t, r.Content, tt.contains)
			assert.True(t, strings.HasPrefix(r.Content, "Error: "))
			assert.Equal(t, tt.recoverable, r.Recoverable)
		})
	}
	assert.Zero(t, invoked.Load(), "invalid input must not reach the tool")
}

func TestDispatchFailureDoesNotAffectSiblings(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(AddTool())
	d := NewDispatcher(reg)

	results := d.Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{
		call("1", "add", `{"a":1,"b":1}`),
		call("2", "missing", `{}`),
		call("3", "add", `{"a":2,"b":2}`),
	})
	require.Len(t, results, 3)
	assert.False(t, results[0].IsError())
	assert.True(t, results[1].IsError())
	assert.False(t, results[2].IsError())
	assert.Equal(t, `{"result":4}`, results[2].Content)
}

func TestDispatchTimeout(t *testing.T) {
	slow := MustNewTool("slow", "ignores cancellation",
		func(context.Context, *ToolContext, struct{}) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return "late", nil
		})
	reg := NewRegistry()
	reg.MustRegister(slow)
	d := NewDispatcher(reg, WithToolTimeout(20*time.Millisecond))

	start := time.Now()
	results := d.Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{call("s", "slow", `{}`)})
	assert.Less(t, time.Since(start), 90*time.Millisecond)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "timed out after 20ms")
	assert.False(t, results[0].Recoverable)

	// Let the abandoned goroutine finish before goleak runs.
	time.Sleep(120 * time.Millisecond)
}

func TestDispatchMaxParallel(t *testing.T) {
	var current, peak atomic.Int32
	tracker := MustNewTool("tracker", "tracks concurrency",
		func(context.Context, *ToolContext, struct{}) (string, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return "ok", nil
		})
	reg := NewRegistry()
	reg.MustRegister(tracker)

	calls := make([]unifiedllm.ToolCall, 6)
	for i := range calls {
		calls[i] = call(string(rune('a'+i)), "tracker", `{}`)
	}

	d := NewDispatcher(reg, WithMaxParallel(2))
	results := d.Dispatch(context.Background(), NewToolContext(), calls)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.Equal(t, "ok", r.Content)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchBlockingToolsUseWorkerPool(t *testing.T) {
	var current, peak atomic.Int32
	blocking := MustNewTool("io", "blocking work",
		func(context.Context, *ToolContext, struct{}) (string, error) {
			n := current.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return "done", nil
		}, Blocking())
	reg := NewRegistry()
	reg.MustRegister(blocking)

	pool := NewWorkerPool(1)
	defer pool.Close()
	d := NewDispatcher(reg, WithWorkerPool(pool))

	results := d.Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{
		call("1", "io", `{}`), call("2", "io", `{}`), call("3", "io", `{}`),
	})
	for _, r := range results {
		assert.Equal(t, "done", r.Content)
	}
	assert.Equal(t, int32(1), peak.Load())
}

func TestDispatchOutputValidation(t *testing.T) {
	out, err := toolschema.FromMap(map[string]any{
		"type":     "object",
		"required": []any{"result"},
		"properties": map[string]any{
			"result": map[string]any{"type": "number", "minimum": 0},
		},
	})
	require.NoError(t, err)
	negative := MustNewTool("negative", "returns a negative number",
		func(context.Context, *ToolContext, struct{}) (NumberOutput, error) {
			return NumberOutput{Result: -1}, nil
		}, WithOutputSchema(out))
	reg := NewRegistry()
	reg.MustRegister(negative)

	results := NewDispatcher(reg).Dispatch(context.Background(), NewToolContext(), []unifiedllm.ToolCall{call("n", "negative", `{}`)})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "output validation failed")
	assert.True(t, results[0].Recoverable)
}

func TestDispatchCanceledContext(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(AddTool())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewDispatcher(reg).Dispatch(ctx, NewToolContext(), []unifiedllm.ToolCall{
		call("1", "add", `{"a":1,"b":1}`),
		call("2", "add", `{"a":1,"b":1}`),
	})
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, []string{"1", "2"}[i], r.CallID)
		assert.Equal(t, "add", r.Name)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	assert.Empty(t, NewDispatcher(NewRegistry()).Dispatch(context.Background(), nil, nil))
}

func TestDispatchSharesToolContext(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	reader := MustNewTool("reader", "reads last_result",
		func(_ context.Context, tc *ToolContext, _ struct{}) (string, error) {
			v, err := GetAs[float64](tc, lastResultKey)
			if err != nil {
				return "", RecoverableError("reader", "%v", err)
			}
			mu.Lock()
			seen = append(seen, "ok")
			mu.Unlock()
			return fmt.Sprintf("saw %g", v), nil
		})
	reg := NewRegistry()
	reg.MustRegister(AddTool(), reader)
	d := NewDispatcher(reg)
	tc := NewToolContext()

	first := d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{call("1", "add", `{"a":2,"b":2}`)})
	require.False(t, first[0].IsError())
	second := d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{call("2", "reader", `{}`)})
	require.False(t, second[0].IsError(), second[0].Error)
	assert.Equal(t, "saw 4", second[0].Content)
	assert.Len(t, seen, 1)
}

func TestDispatchConcurrentToolContextWrites(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterCoreTools(reg, nil))
	d := NewDispatcher(reg)
	tc := NewToolContext()

	for range 50 {
		results := d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
			call("a", "add", `{"a":1,"b":2}`),
			call("m", "multiply", `{"a":3,"b":4}`),
		})
		require.Len(t, results, 2)
		assert.Equal(t, `{"result":3}`, results[0].Content)
		assert.Equal(t, `{"result":12}`, results[1].Content)
	}
	v, err := GetAs[float64](tc, lastResultKey)
	require.NoError(t, err)
	assert.Contains(t, []float64{3, 12}, v)
}

func TestResultMessage(t *testing.T) {
	tc := NewToolContext()
	tc.Set("last_result", 8.0, "add")
	results := []ToolResult{
		{CallID: "b", Name: "add", Content: strings.Repeat("x", 50)},
		errorResult("bad input", true),
	}
	results[1].CallID, results[1].Name = "a", "add"

	msg := resultMessage(results, tc, 40, 0)
	assert.Equal(t, unifiedllm.RoleUser, msg.Role)
	parts := msg.ToolResults()
	require.Len(t, parts, 2)

	assert.Equal(t, "b", parts[0].ToolCallID)
	assert.False(t, parts[0].IsError)
	assert.Contains(t, parts[0].Text(), "truncated")

	assert.Equal(t, "a", parts[1].ToolCallID)
	assert.True(t, parts[1].IsError)
	assert.True(t, parts[1].Recoverable)

	plain := resultMessage([]ToolResult{{CallID: "c", Content: "ok"}}, NewToolContext(), 0, 0)
	assert.Equal(t, "ok", plain.ToolResults()[0].Text())

	withSummary := resultMessage([]ToolResult{{CallID: "c", Content: "ok"}}, tc, 0, 0)
	assert.Equal(t, "ok\n[ToolContext: {last_result: type=float64, source=add}]", withSummary.ToolResults()[0].Text())
}
