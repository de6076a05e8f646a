package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/martinemde/agentrt/toolschema"
	"github.com/martinemde/agentrt/unifiedllm"
)

// Registry holds tools by name, preserving registration order.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for lifecycle events.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. A name that is already taken yields
// *DuplicateToolError and leaves the registry unchanged.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("agentloop: register nil tool")
	}
	name := t.Spec().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// MustRegister registers each tool and panics on the first error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) ordered() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.order))
	for i, name := range r.order {
		out[i] = r.tools[name]
	}
	return out
}

// ExportSchemas renders every tool definition in format f, in registration
// order.
func (r *Registry) ExportSchemas(f toolschema.Format) []map[string]any {
	tools := r.ordered()
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		spec := t.Spec()
		out[i] = toolschema.Export(f, spec.Name, spec.Description, spec.Input)
	}
	return out
}

// Definitions returns the tool definitions sent with each model request, with
// parameters shaped for format f.
func (r *Registry) Definitions(f toolschema.Format) []unifiedllm.ToolDefinition {
	tools := r.ordered()
	if len(tools) == 0 {
		return nil
	}
	defs := make([]unifiedllm.ToolDefinition, len(tools))
	for i, t := range tools {
		spec := t.Spec()
		params := map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}}
		if spec.Input != nil {
			params = spec.Input.Parameters(f)
		}
		defs[i] = unifiedllm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		}
	}
	return defs
}

// Startup runs Setup on every tool that has one, in registration order. When
// a setup fails, tools already started are torn down and the error returned.
func (r *Registry) Startup(ctx context.Context) error {
	tools := r.ordered()
	for i, t := range tools {
		s, ok := t.(Setupper)
		if !ok {
			continue
		}
		if err := s.Setup(ctx); err != nil {
			name := t.Spec().Name
			r.logger.Error("tool setup failed", "tool", name, "error", err)
			r.teardown(ctx, tools[:i])
			return fmt.Errorf("agentloop: setup %s: %w", name, err)
		}
	}
	r.logger.Debug("tools started", "count", len(tools))
	return nil
}

// Shutdown runs Teardown on every tool in reverse registration order. All
// tools are visited; failures are logged and returned joined.
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.teardown(ctx, r.ordered())
}

func (r *Registry) teardown(ctx context.Context, tools []Tool) error {
	var errs []error
	for i := len(tools) - 1; i >= 0; i-- {
		td, ok := tools[i].(Teardowner)
		if !ok {
			continue
		}
		if err := td.Teardown(ctx); err != nil {
			name := tools[i].Spec().Name
			r.logger.Warn("tool teardown failed", "tool", name, "error", err)
			errs = append(errs, fmt.Errorf("teardown %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
