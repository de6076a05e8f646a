package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentrt/unifiedllm"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2 + 3 * (4 - 1)", 11},
		{"-4 / 8", -0.5},
		{"7 % 3", 1},
		{"1.5e2", 150},
		{"0x10", 16},
		{"+(2)", 2},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr, nil)
		require.NoError(t, err, tt.expr)
		assert.InDelta(t, tt.want, got, 1e-9, tt.expr)
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"1 / 0", "5 % 0", "os.Exit(1)", "x + 1", "1 +", "2 ** 3", "1 // 2", "\"a\"", "1 << 2"} {
		_, err := Evaluate(expr, nil)
		assert.Error(t, err, expr)
	}
}

func TestEvaluateAns(t *testing.T) {
	tc := NewToolContext()
	_, err := Evaluate("ans * 2", tc)
	assert.ErrorContains(t, err, "no key")

	tc.Set(lastResultKey, 21.0, "add")
	got, err := Evaluate("ans * 2", tc)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestCalculatorToolThroughDispatcher(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterCoreTools(reg, nil))
	assert.Equal(t, []string{"add", "multiply", "calculator"}, reg.Names())

	tc := NewToolContext()
	d := NewDispatcher(reg)
	results := d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("1", "multiply", `{"a":6,"b":7}`),
	})
	require.False(t, results[0].IsError())

	results = d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("2", "calculator", `{"expression":"ans - 2"}`),
		call("3", "calculator", `{"expression":"1/0"}`),
	})
	assert.Equal(t, `{"result":40}`, results[0].Content)
	assert.True(t, results[1].IsError())
	assert.True(t, results[1].Recoverable)
	assert.Contains(t, results[1].Error, "division by zero")
}

func TestFileTools(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, RegisterCoreTools(reg, ws))
	d := NewDispatcher(reg)
	tc := NewToolContext()

	res := d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("1", "write_file", `{"filename":"a.txt","content":"hello"}`),
	})[0]
	require.False(t, res.IsError(), res.Error)
	assert.Contains(t, res.Content, `"bytes":5`)

	res = d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("2", "write_file", `{"filename":"a.txt","content":"again"}`),
	})[0]
	assert.True(t, res.Recoverable)
	assert.Contains(t, res.Error, "overwrite")

	res = d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("3", "write_file", `{"filename":"a.txt","content":"again","overwrite":true}`),
	})[0]
	require.False(t, res.IsError(), res.Error)

	res = d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("4", "read_file", `{"filename":"a.txt"}`),
	})[0]
	require.False(t, res.IsError(), res.Error)
	assert.Equal(t, "again", res.Content)

	res = d.Dispatch(context.Background(), tc, []unifiedllm.ToolCall{
		call("5", "read_file", `{"filename":"missing.txt"}`),
	})[0]
	assert.True(t, res.IsError())
	assert.True(t, res.Recoverable)
}

func TestBuildSystemPrompt(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, RegisterCoreTools(reg, ws))

	prompt := BuildSystemPrompt(DefaultInstructions, reg, ws, "gpt-4o")
	assert.Contains(t, prompt, "careful assistant")
	assert.Contains(t, prompt, "<environment>")
	assert.Contains(t, prompt, "Model: gpt-4o")
	assert.Contains(t, prompt, "Output directory: "+ws.Root())
	assert.Contains(t, prompt, "Tools: add, multiply, calculator, write_file, read_file")

	bare := BuildEnvironmentContext(nil, nil, "")
	assert.NotContains(t, bare, "Tools:")
	assert.NotContains(t, bare, "Model:")
}
