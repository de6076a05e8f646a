package agentloop

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/mitchellh/mapstructure"

	"github.com/martinemde/agentrt/toolschema"
)

// ToolSpec is the registered description of a tool. Input and Output may be
// nil, in which case the corresponding validation is skipped.
type ToolSpec struct {
	Name        string
	Description string
	Input       *toolschema.Schema
	Output      *toolschema.Schema
	// Blocking tools are run on the runtime's worker pool.
	Blocking bool
}

// Tool is a capability the model can invoke. Invoke receives the input
// already validated against Spec().Input, in its decoded JSON form.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, tc *ToolContext, input any) (any, error)
}

// Setupper is implemented by tools that acquire resources before first use.
type Setupper interface {
	Setup(ctx context.Context) error
}

// Teardowner is implemented by tools that release resources on shutdown.
type Teardowner interface {
	Teardown(ctx context.Context) error
}

// Summarizer lets a tool output choose the text shown to the model in place
// of its JSON encoding.
type Summarizer interface {
	Summary() string
}

// ToolFunc is the typed body of a tool built with NewTool.
type ToolFunc[In, Out any] func(ctx context.Context, tc *ToolContext, in In) (Out, error)

// ToolOption configures a tool built with NewTool.
type ToolOption func(*toolOptions)

type toolOptions struct {
	blocking bool
	setup    func(context.Context) error
	teardown func(context.Context) error
	input    *toolschema.Schema
	output   *toolschema.Schema
}

// Blocking marks the tool as synchronous work to be run on the worker pool.
func Blocking() ToolOption {
	return func(o *toolOptions) { o.blocking = true }
}

// WithLifecycle attaches setup and teardown hooks. Either may be nil.
func WithLifecycle(setup, teardown func(context.Context) error) ToolOption {
	return func(o *toolOptions) {
		o.setup = setup
		o.teardown = teardown
	}
}

// WithInputSchema replaces the reflected input schema.
func WithInputSchema(s *toolschema.Schema) ToolOption {
	return func(o *toolOptions) { o.input = s }
}

// WithOutputSchema replaces the reflected output schema.
func WithOutputSchema(s *toolschema.Schema) ToolOption {
	return func(o *toolOptions) { o.output = s }
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// NewTool builds a Tool from a typed function. Input and output schemas are
// reflected from In and Out; validated input is decoded into In.
func NewTool[In, Out any](name, description string, fn ToolFunc[In, Out], opts ...ToolOption) (Tool, error) {
	if !toolNamePattern.MatchString(name) {
		return nil, fmt.Errorf("agentloop: invalid tool name %q", name)
	}
	if fn == nil {
		return nil, fmt.Errorf("agentloop: tool %q has no function", name)
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}

	in := o.input
	if in == nil {
		s, err := schemaFor[In]()
		if err != nil {
			return nil, fmt.Errorf("agentloop: tool %q input schema: %w", name, err)
		}
		in = s
	}
	out := o.output
	if out == nil {
		s, err := schemaFor[Out]()
		if err != nil {
			return nil, fmt.Errorf("agentloop: tool %q output schema: %w", name, err)
		}
		out = s
	}

	return &funcTool[In, Out]{
		spec: ToolSpec{
			Name:        name,
			Description: description,
			Input:       in,
			Output:      out,
			Blocking:    o.blocking,
		},
		fn:       fn,
		setup:    o.setup,
		teardown: o.teardown,
	}, nil
}

// MustNewTool is like NewTool but panics on error.
func MustNewTool[In, Out any](name, description string, fn ToolFunc[In, Out], opts ...ToolOption) Tool {
	t, err := NewTool(name, description, fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// schemaFor reflects T. Interface types accept anything and get no schema.
func schemaFor[T any]() (*toolschema.Schema, error) {
	if reflect.TypeFor[T]().Kind() == reflect.Interface {
		return nil, nil
	}
	return toolschema.Reflect[T]()
}

type funcTool[In, Out any] struct {
	spec     ToolSpec
	fn       ToolFunc[In, Out]
	setup    func(context.Context) error
	teardown func(context.Context) error
}

func (t *funcTool[In, Out]) Spec() ToolSpec { return t.spec }

func (t *funcTool[In, Out]) Invoke(ctx context.Context, tc *ToolContext, input any) (any, error) {
	var in In
	if err := decodeInput(input, &in); err != nil {
		return nil, RecoverableError(t.spec.Name, "decode input: %v", err)
	}
	return t.fn(ctx, tc, in)
}

func (t *funcTool[In, Out]) Setup(ctx context.Context) error {
	if t.setup == nil {
		return nil
	}
	return t.setup(ctx)
}

func (t *funcTool[In, Out]) Teardown(ctx context.Context) error {
	if t.teardown == nil {
		return nil
	}
	return t.teardown(ctx)
}

// decodeInput copies a decoded JSON instance into out. Numbers arrive as
// json.Number and strings may stand in for scalars.
func decodeInput(input any, out any) error {
	if input == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
