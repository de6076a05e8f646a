package toolschema

import (
	"fmt"
	"strings"
)

// Format names a provider's tool-definition dialect.
type Format string

const (
	// FormatAnthropic: {name, description, input_schema}.
	FormatAnthropic Format = "anthropic"
	// FormatOpenAI: {type: "function", function: {name, description, parameters}}.
	FormatOpenAI Format = "openai"
	// FormatGemini: {name, description, parameters}.
	FormatGemini Format = "gemini"
)

// Formats lists every supported export format.
var Formats = []Format{FormatAnthropic, FormatOpenAI, FormatGemini}

// ParseFormat resolves a format or provider name. "google" is accepted as an
// alias for Gemini.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anthropic", "claude":
		return FormatAnthropic, nil
	case "openai":
		return FormatOpenAI, nil
	case "gemini", "google":
		return FormatGemini, nil
	default:
		return "", fmt.Errorf("toolschema: unknown format %q", s)
	}
}

// Parameters returns the schema as a parameters object suitable for format f.
// Object schemas always carry "type", "properties" and "required".
func (s *Schema) Parameters(f Format) map[string]any {
	doc := s.Map()
	if _, ok := doc["type"]; !ok {
		doc["type"] = "object"
	}
	if doc["type"] == "object" {
		if _, ok := doc["properties"]; !ok {
			doc["properties"] = map[string]any{}
		}
		if _, ok := doc["required"]; !ok {
			doc["required"] = []any{}
		}
	}
	if f == FormatGemini {
		walk(doc, func(n map[string]any) {
			delete(n, "additionalProperties")
		})
	}
	return doc
}

// Export renders one tool definition in format f. The result depends only on
// its arguments.
func Export(f Format, name, description string, input *Schema) map[string]any {
	params := map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}}
	if input != nil {
		params = input.Parameters(f)
	}
	switch f {
	case FormatOpenAI:
		return map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        name,
				"description": description,
				"parameters":  params,
			},
		}
	case FormatGemini:
		return map[string]any{
			"name":        name,
			"description": description,
			"parameters":  params,
		}
	default:
		return map[string]any{
			"name":         name,
			"description":  description,
			"input_schema": params,
		}
	}
}
