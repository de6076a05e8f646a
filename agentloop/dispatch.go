package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/martinemde/agentrt/toolschema"
	"github.com/martinemde/agentrt/unifiedllm"
)

// ToolResult is the outcome of one tool call. Content is the text shown to
// the model; on failure it is "Error: " followed by Error.
type ToolResult struct {
	CallID      string
	Name        string
	Output      any
	Content     string
	Error       string
	Recoverable bool
	Duration    time.Duration
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool { return r.Error != "" }

func errorResult(msg string, recoverable bool) ToolResult {
	return ToolResult{Content: "Error: " + msg, Error: msg, Recoverable: recoverable}
}

// Dispatcher executes batches of tool calls against a Registry.
type Dispatcher struct {
	registry    *Registry
	pool        *WorkerPool
	maxParallel int
	timeout     time.Duration
	logger      *slog.Logger
	observe     func(kind EventKind, data map[string]any)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkerPool runs Blocking tools on p. Without a pool they get their own
// goroutine like any other tool.
func WithWorkerPool(p *WorkerPool) DispatcherOption {
	return func(d *Dispatcher) { d.pool = p }
}

// WithMaxParallel bounds concurrent calls within one batch. n <= 0 means no
// bound.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxParallel = n }
}

// WithToolTimeout bounds each call. d <= 0 disables the timeout.
func WithToolTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func withObserver(fn func(EventKind, map[string]any)) DispatcherOption {
	return func(d *Dispatcher) { d.observe = fn }
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		logger:   slog.New(slog.DiscardHandler),
		observe:  func(EventKind, map[string]any) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs calls concurrently and returns one result per call in the
// order of calls, whatever order they complete in. A failing call never
// affects its siblings. tc is shared by every call without locking.
//
// When ctx is done, calls still waiting for a slot fail and calls in flight
// are abandoned; their tools may keep running in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, tc *ToolContext, calls []unifiedllm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}
	limit := d.maxParallel
	if limit <= 0 || limit > len(calls) {
		limit = len(calls)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				r := errorResult("dispatch canceled: "+ctx.Err().Error(), false)
				r.CallID, r.Name = call.ID, call.Name
				results[i] = r
				return
			}
			defer func() { <-sem }()
			results[i] = d.dispatchOne(ctx, tc, call)
		}()
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, tc *ToolContext, call unifiedllm.ToolCall) ToolResult {
	d.observe(EventToolCallStart, map[string]any{"tool": call.Name, "call_id": call.ID})
	start := time.Now()

	res := d.execute(ctx, tc, call)
	res.CallID, res.Name = call.ID, call.Name
	res.Duration = time.Since(start)

	data := map[string]any{"tool": call.Name, "call_id": call.ID, "duration_ms": res.Duration.Milliseconds()}
	if res.IsError() {
		data["error"] = res.Error
		data["recoverable"] = res.Recoverable
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", res.Error, "recoverable", res.Recoverable)
	} else {
		d.logger.Debug("tool call complete", "tool", call.Name, "call_id", call.ID, "duration", res.Duration)
	}
	d.observe(EventToolCallEnd, data)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, tc *ToolContext, call unifiedllm.ToolCall) ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return errorResult("unknown tool: "+call.Name, true)
	}
	spec := tool.Spec()

	input, err := decodeArguments(spec.Input, call.Arguments)
	if err != nil {
		return errorResult(err.Error(), true)
	}

	out, err := d.invoke(ctx, tc, tool, spec, input)
	if err != nil {
		return failure(err)
	}
	if spec.Output != nil {
		if err := spec.Output.Validate(out); err != nil {
			return errorResult("output validation failed: "+err.Error(), true)
		}
	}
	content, err := renderOutput(out)
	if err != nil {
		return errorResult("encode output: "+err.Error(), false)
	}
	return ToolResult{Output: out, Content: content}
}

// decodeArguments validates raw against schema, or only parses it when the
// tool declares no input schema.
func decodeArguments(schema *toolschema.Schema, raw json.RawMessage) (any, error) {
	if schema != nil {
		return schema.ValidateJSON(raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return v, nil
}

type outcome struct {
	out any
	err error
}

func (d *Dispatcher) invoke(parent context.Context, tc *ToolContext, tool Tool, spec ToolSpec, input any) (any, error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	job := func() {
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("tool panicked", "tool", spec.Name, "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: &panicError{value: p}}
			}
		}()
		out, err := tool.Invoke(ctx, tc, input)
		done <- outcome{out: out, err: err}
	}

	if spec.Blocking && d.pool != nil {
		if err := d.pool.Submit(ctx, job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", spec.Name, err)
		}
	} else {
		go job()
	}

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool %s timed out after %s", spec.Name, d.timeout)
		}
		return nil, fmt.Errorf("tool %s canceled: %w", spec.Name, ctx.Err())
	}
}

// failure maps an invocation error to a result. Only *ToolError and
// validation errors may be recoverable.
func failure(err error) ToolResult {
	var te *ToolError
	if errors.As(err, &te) {
		return errorResult(te.Message, te.Recoverable)
	}
	if errors.Is(err, toolschema.ErrValidation) {
		return errorResult(err.Error(), true)
	}
	return errorResult(err.Error(), false)
}

// renderOutput produces the model-visible text of a successful call.
func renderOutput(out any) (string, error) {
	switch v := out.(type) {
	case Summarizer:
		return v.Summary(), nil
	case string:
		return v, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// resultMessage builds the user message answering a batch: one ToolResult
// part per call, in call order. When tc holds values its summary is appended
// to every result before truncation.
func resultMessage(results []ToolResult, tc *ToolContext, maxChars, maxLines int) unifiedllm.Message {
	var suffix string
	if tc != nil && tc.Len() > 0 {
		suffix = "\n[ToolContext: " + tc.Summary() + "]"
	}
	parts := make([]unifiedllm.ContentPart, len(results))
	for i, r := range results {
		text := truncateResult(r.Content+suffix, maxChars, maxLines)
		part := unifiedllm.ToolResultPart(r.CallID, r.Name, text, r.IsError())
		part.ToolResult.Recoverable = r.Recoverable
		parts[i] = part
	}
	return unifiedllm.Message{Role: unifiedllm.RoleUser, Content: parts}
}
