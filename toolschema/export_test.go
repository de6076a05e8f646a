package toolschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFormats(t *testing.T) {
	s := MustReflect[addInput]()

	t.Run("anthropic", func(t *testing.T) {
		out := Export(FormatAnthropic, "add", "Add two numbers", s)
		assert.Equal(t, "add", out["name"])
		assert.Equal(t, "Add two numbers", out["description"])
		params, ok := out["input_schema"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "object", params["type"])
		assert.Contains(t, params, "properties")
		assert.Contains(t, params, "required")
	})

	t.Run("openai", func(t *testing.T) {
		out := Export(FormatOpenAI, "add", "Add two numbers", s)
		assert.Equal(t, "function", out["type"])
		fn, ok := out["function"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "add", fn["name"])
		assert.Equal(t, "Add two numbers", fn["description"])
		params := fn["parameters"].(map[string]any)
		assert.Equal(t, false, params["additionalProperties"])
	})

	t.Run("gemini", func(t *testing.T) {
		out := Export(FormatGemini, "add", "Add two numbers", s)
		assert.Equal(t, "add", out["name"])
		params, ok := out["parameters"].(map[string]any)
		require.True(t, ok)
		assert.NotContains(t, params, "additionalProperties")
		assert.NotContains(t, out, "input_schema")
	})
}

func TestExportIsDeterministic(t *testing.T) {
	s := MustReflect[writeInput]()
	for _, f := range Formats {
		assert.Equal(t, Export(f, "write_file", "d", s), Export(f, "write_file", "d", s))
	}
}

func TestExportDoesNotAliasSchema(t *testing.T) {
	s := MustReflect[addInput]()
	out := Export(FormatAnthropic, "add", "", s)
	out["input_schema"].(map[string]any)["type"] = "mutated"

	assert.Equal(t, "object", s.Map()["type"])
}

func TestExportNilSchema(t *testing.T) {
	out := Export(FormatGemini, "ping", "no arguments", nil)
	params := out["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Empty(t, params["properties"])
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"anthropic": FormatAnthropic,
		"OpenAI":    FormatOpenAI,
		"google":    FormatGemini,
		" gemini ":  FormatGemini,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("cohere")
	assert.Error(t, err)
}
