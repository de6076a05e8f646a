package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/agentrt/toolschema"
	"github.com/martinemde/agentrt/unifiedllm"
)

// LLMClient is the model backend driven by the Runtime. *unifiedllm.Client
// satisfies it. Retries happen inside the client; one call is one turn.
type LLMClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// State is the lifecycle state of a Runtime.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingModel    State = "awaiting_model"
	StateDispatchingTools State = "dispatching_tools"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// ErrRunInProgress is returned when Run or RunStream is called while another
// run on the same Runtime has not finished.
var ErrRunInProgress = errors.New("agentloop: a run is already in progress")

// Runtime alternates model turns and tool dispatch until the model answers
// without requesting tools, or the iteration ceiling is reached.
type Runtime struct {
	client     LLMClient
	registry   *Registry
	dispatcher *Dispatcher
	pool       *WorkerPool
	history    *History
	cfg        Config
	system     string
	provider   string
	format     toolschema.Format
	logger     *slog.Logger
	emitter    *EventEmitter

	mu        sync.Mutex
	state     State
	runID     string
	iteration int
	running   bool
	closed    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEventEmitter publishes run events to e. The Runtime closes e on Close.
func WithEventEmitter(e *EventEmitter) Option {
	return func(r *Runtime) { r.emitter = e }
}

// WithSystemPrompt sets the system prompt sent with every request.
func WithSystemPrompt(prompt string) Option {
	return func(r *Runtime) { r.system = prompt }
}

// WithHistory makes the Runtime append to h instead of a fresh History.
func WithHistory(h *History) Option {
	return func(r *Runtime) {
		if h != nil {
			r.history = h
		}
	}
}

// WithProvider pins requests to a provider and shapes tool definitions for it.
func WithProvider(name string) Option {
	return func(r *Runtime) {
		r.provider = name
		r.format = unifiedllm.FormatForProvider(name)
	}
}

// WithToolFormat overrides the dialect used for tool parameter schemas.
func WithToolFormat(f toolschema.Format) Option {
	return func(r *Runtime) { r.format = f }
}

// New creates a Runtime. The configuration is validated and a worker pool of
// Config.WorkerPoolSize goroutines is started; release it with Close.
func New(client LLMClient, registry *Registry, opts ...Option) (*Runtime, error) {
	if client == nil {
		return nil, errors.New("agentloop: nil LLM client")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	r := &Runtime{
		client:   client,
		registry: registry,
		history:  NewHistory(),
		cfg:      DefaultConfig(),
		format:   toolschema.FormatOpenAI,
		logger:   slog.New(slog.DiscardHandler),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	r.pool = NewWorkerPool(r.cfg.WorkerPoolSize)
	r.dispatcher = NewDispatcher(registry,
		WithWorkerPool(r.pool),
		WithMaxParallel(r.cfg.MaxParallelTools),
		WithToolTimeout(r.cfg.ToolTimeout),
		WithDispatchLogger(r.logger),
		withObserver(r.emit),
	)
	return r, nil
}

// Run sends text to the model and drives tool calls until the model ends its
// turn. It returns the text the model produced during the run: the text of
// every assistant turn concatenated, including any preamble the model wrote
// alongside its tool calls, so that it matches the tokens of RunStream.
//
// The run fails with *MaxIterationsExceeded when the model requests tools
// after Config.MaxIterations dispatch rounds, and with a wrapped
// *unifiedllm.APIError when the client gives up. History is kept either way.
func (r *Runtime) Run(ctx context.Context, text string) (string, error) {
	return r.run(ctx, text, r.client.Complete)
}

type turnFunc func(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)

func (r *Runtime) run(ctx context.Context, text string, turn turnFunc) (string, error) {
	runID, err := r.begin()
	if err != nil {
		return "", err
	}
	defer r.finish()
	logger := r.logger.With("run_id", runID)

	r.emit(EventRunStart, map[string]any{"input": text})
	logger.Info("run started", "tools", r.registry.Len(), "max_iterations", r.cfg.MaxIterations)
	r.history.Append(unifiedllm.UserMessage(text))

	tc := NewToolContext()
	defer tc.Clear()

	var out strings.Builder
	iteration := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", r.fail(logger, err)
		}
		r.setState(StateAwaitingModel, iteration)

		req := r.request(runID)
		r.emit(EventModelRequest, map[string]any{"messages": len(req.Messages), "tools": len(req.Tools)})
		resp, err := turn(ctx, req)
		if err != nil {
			return "", r.fail(logger, fmt.Errorf("agentloop: model turn %d: %w", iteration+1, err))
		}
		if resp == nil {
			return "", r.fail(logger, fmt.Errorf("agentloop: model turn %d: empty response", iteration+1))
		}
		if resp.StopReason == unifiedllm.StopError {
			return "", r.fail(logger, fmt.Errorf("agentloop: model turn %d: provider reported an error (%s)", iteration+1, resp.RawStop))
		}

		calls := resp.ToolCalls()
		r.emit(EventModelResponse, map[string]any{
			"stop_reason":   string(resp.StopReason),
			"tool_calls":    len(calls),
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		})
		logger.Debug("model turn complete", "iteration", iteration, "stop_reason", resp.StopReason, "tool_calls", len(calls))
		out.WriteString(resp.Text())
		r.history.Append(resp.Message)

		if len(calls) == 0 {
			if resp.StopReason == unifiedllm.StopMaxTokens {
				logger.Warn("response truncated at max tokens", "iteration", iteration, "max_tokens", r.cfg.MaxTokens)
				r.emit(EventTurnTruncated, map[string]any{"max_tokens": r.cfg.MaxTokens})
			}
			r.setState(StateDone, iteration)
			r.emit(EventRunEnd, map[string]any{"state": string(StateDone), "iterations": iteration})
			logger.Info("run complete", "iterations", iteration)
			return out.String(), nil
		}

		if iteration >= r.cfg.MaxIterations {
			pending := make([]string, len(calls))
			for i, c := range calls {
				pending[i] = c.Name
			}
			return "", r.fail(logger, &MaxIterationsExceeded{Limit: r.cfg.MaxIterations, Pending: pending})
		}

		r.setState(StateDispatchingTools, iteration)
		results := r.dispatcher.Dispatch(ctx, tc, calls)
		r.history.Append(resultMessage(results, tc, r.cfg.ToolOutputLimit, r.cfg.ToolLineLimit))
		iteration++
		r.setState(StateDispatchingTools, iteration)

		if err := ctx.Err(); err != nil {
			return "", r.fail(logger, err)
		}
		if w := r.cfg.LoopDetectionWindow; w > 0 && DetectLoop(r.history.Snapshot(), w) {
			logger.Warn("repeating tool call pattern", "window", w, "iteration", iteration)
			r.emit(EventLoopDetected, map[string]any{"window": w})
		}
	}
}

func (r *Runtime) request(runID string) unifiedllm.Request {
	maxTokens := r.cfg.MaxTokens
	return unifiedllm.Request{
		Model:       r.cfg.Model,
		Provider:    r.provider,
		System:      r.system,
		Messages:    r.history.Snapshot(),
		Tools:       r.registry.Definitions(r.format),
		MaxTokens:   &maxTokens,
		Temperature: r.cfg.Temperature,
		Metadata:    map[string]string{"run_id": runID},
	}
}

func (r *Runtime) begin() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRuntimeClosed
	}
	if r.running {
		return "", ErrRunInProgress
	}
	r.running = true
	r.runID = uuid.NewString()
	r.iteration = 0
	return r.runID, nil
}

func (r *Runtime) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *Runtime) fail(logger *slog.Logger, err error) error {
	r.mu.Lock()
	r.state = StateFailed
	iteration := r.iteration
	r.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		logger.Info("run canceled", "iteration", iteration)
	} else {
		logger.Error("run failed", "iteration", iteration, "error", err)
	}
	r.emit(EventError, map[string]any{"error": err.Error()})
	r.emit(EventRunEnd, map[string]any{"state": string(StateFailed), "iterations": iteration})
	return err
}

func (r *Runtime) setState(s State, iteration int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.iteration = iteration
}

func (r *Runtime) emit(kind EventKind, data map[string]any) {
	if r.emitter == nil {
		return
	}
	r.mu.Lock()
	runID, iteration := r.runID, r.iteration
	r.mu.Unlock()
	r.emitter.Emit(Event{Kind: kind, RunID: runID, Iteration: iteration, Data: data})
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Iteration returns the number of dispatch rounds completed by the current
// or most recent run.
func (r *Runtime) Iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

// History returns a copy of the conversation so far.
func (r *Runtime) History() []unifiedllm.Message {
	return r.history.Snapshot()
}

// Reset clears the conversation and returns the Runtime to StateIdle.
func (r *Runtime) Reset() {
	r.history.Reset()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.iteration = 0
}

// Registry returns the tool registry.
func (r *Runtime) Registry() *Registry { return r.registry }

// Close stops the worker pool and closes the event emitter. Later runs fail
// with ErrRuntimeClosed.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.pool.Close()
	r.emitter.Close()
}
