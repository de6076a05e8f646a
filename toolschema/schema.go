// Package toolschema converts Go types describing tool inputs and outputs into
// JSON Schema documents, validates instances against them, and exports them in
// the tool-definition shapes expected by each LLM provider.
package toolschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

const resourceURL = "http://agentrt.local/schema.json"

// Schema is a JSON Schema document paired with its compiled validator.
// A Schema is immutable once built and safe for concurrent use.
type Schema struct {
	doc      map[string]any
	compiled *jsv.Schema
}

// Reflect builds the Schema for type T.
func Reflect[T any]() (*Schema, error) {
	return ReflectType(reflect.TypeFor[T]())
}

// MustReflect is like Reflect but panics on error. Intended for package-level
// tool declarations.
func MustReflect[T any]() *Schema {
	s, err := Reflect[T]()
	if err != nil {
		panic(fmt.Sprintf("toolschema: reflect %T: %v", *new(T), err))
	}
	return s
}

// ReflectValue builds the Schema for the dynamic type of v.
func ReflectValue(v any) (*Schema, error) {
	if v == nil {
		return FromMap(map[string]any{})
	}
	return ReflectType(reflect.TypeOf(v))
}

// ReflectType builds the Schema for t. Struct fields are required unless their
// json tag carries omitempty; descriptions come from jsonschema_description or
// the jsonschema tag.
func ReflectType(t reflect.Type) (*Schema, error) {
	// ExpandedStruct is left off: it dereferences a named definition, which
	// scalars, slices, maps and anonymous structs never get. With
	// DoNotReference the root schema is already inlined.
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	reflected := r.ReflectFromType(t)
	if reflected == nil {
		return nil, fmt.Errorf("toolschema: reflection returned nil for %s", t)
	}
	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("toolschema: marshal reflected schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("toolschema: decode reflected schema: %w", err)
	}
	delete(doc, "title")
	return FromMap(doc)
}

// FromMap builds a Schema from a hand-written JSON Schema document. The map is
// copied; later changes by the caller are not observed.
func FromMap(doc map[string]any) (*Schema, error) {
	doc = copyMap(doc)
	delete(doc, "$schema")
	walk(doc, func(n map[string]any) {
		delete(n, "$id")
		delete(n, "id")
	})

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("toolschema: marshal schema: %w", err)
	}
	loaded, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("toolschema: load schema: %w", err)
	}

	c := jsv.NewCompiler()
	if err := c.AddResource(resourceURL, loaded); err != nil {
		return nil, fmt.Errorf("toolschema: add schema: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("toolschema: compile schema: %w", err)
	}
	return &Schema{doc: doc, compiled: compiled}, nil
}

// Map returns a deep copy of the schema document.
func (s *Schema) Map() map[string]any {
	return copyMap(s.doc)
}

// Validate checks a decoded JSON instance against the schema. Instances built
// from Go values (structs, typed slices) are normalised through JSON first.
func (s *Schema) Validate(instance any) error {
	inst, err := normalize(instance)
	if err != nil {
		return &ValidationError{Problems: []string{err.Error()}, Cause: err}
	}
	if err := s.compiled.Validate(inst); err != nil {
		return newValidationError(err)
	}
	return nil
}

// ValidateJSON decodes raw, preserving number precision, validates it and
// returns the decoded instance. Empty input is treated as an empty object.
func (s *Schema) ValidateJSON(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	inst, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Problems: []string{"invalid JSON: " + err.Error()}, Cause: err}
	}
	if err := s.compiled.Validate(inst); err != nil {
		return nil, newValidationError(err)
	}
	return inst, nil
}

// normalize converts arbitrary Go values into the generic JSON shapes the
// validator understands.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, json.Number, map[string]any, []any:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	return jsv.UnmarshalJSON(bytes.NewReader(data))
}

func walk(node map[string]any, visit func(map[string]any)) {
	if node == nil {
		return
	}
	visit(node)
	for _, val := range node {
		switch v := val.(type) {
		case map[string]any:
			walk(v, visit)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					walk(m, visit)
				}
			}
		}
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
