package agentloop

import (
	"errors"
	"fmt"
)

// ToolError is returned by a tool to report a failure the model should see.
// Recoverable tells the model it may retry with different input.
type ToolError struct {
	Tool        string
	Message     string
	Recoverable bool
	Cause       error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a non-recoverable ToolError.
func NewToolError(tool, message string) *ToolError {
	return &ToolError{Tool: tool, Message: message}
}

// RecoverableError creates a ToolError the model can correct by retrying.
func RecoverableError(tool, format string, args ...any) *ToolError {
	return &ToolError{Tool: tool, Message: fmt.Sprintf(format, args...), Recoverable: true}
}

// DuplicateToolError is returned when registering a name that already exists.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// ErrMaxIterationsExceeded is matched by *MaxIterationsExceeded via errors.Is.
var ErrMaxIterationsExceeded = errors.New("max iterations exceeded")

// MaxIterationsExceeded is returned when the model keeps requesting tools
// after Limit rounds of dispatch.
type MaxIterationsExceeded struct {
	Limit int
	// Pending holds the names of the tool calls that were not dispatched.
	Pending []string
}

func (e *MaxIterationsExceeded) Error() string {
	return fmt.Sprintf("max iterations (%d) exceeded: model still requested %d tool call(s)", e.Limit, len(e.Pending))
}

func (e *MaxIterationsExceeded) Is(target error) bool { return target == ErrMaxIterationsExceeded }

// ErrRuntimeClosed is returned by Run and RunStream after Close.
var ErrRuntimeClosed = errors.New("agentloop: runtime is closed")

// ErrPoolClosed is returned when submitting to a stopped worker pool.
var ErrPoolClosed = errors.New("agentloop: worker pool is closed")

// panicError wraps a value recovered from a tool panic.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }
