package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of runtime event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventRunEnd        EventKind = "run_end"
	EventModelRequest  EventKind = "model_request"
	EventModelResponse EventKind = "model_response"
	EventTextDelta     EventKind = "text_delta"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventTurnTruncated EventKind = "turn_truncated"
	EventLoopDetected  EventKind = "loop_detected"
	EventError         EventKind = "error"
)

// Event is a typed notification emitted while a run progresses.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Iteration int            `json:"iteration"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application over a buffered
// channel. Emit never blocks; events are dropped when the buffer is full.
type EventEmitter struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

// NewEventEmitter creates an emitter with the given buffer size (256 when
// bufferSize is not positive).
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event. It is a no-op on a nil or closed emitter.
func (e *EventEmitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
	}
}

// Events returns the receive side of the event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Dropped reports how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
