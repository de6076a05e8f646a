package agentloop

import (
	"sync"

	"github.com/martinemde/agentrt/unifiedllm"
)

// History is the ordered conversation log. Messages are copied on the way in
// and out, so nothing outside the History can change what it holds.
//
// Readers may call Snapshot while a run appends. Only one writer at a time
// is supported.
type History struct {
	mu       sync.RWMutex
	messages []unifiedllm.Message
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{}
}

// Append adds messages to the end of the log.
func (h *History) Append(msgs ...unifiedllm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
}

// Snapshot returns a copy of every message in order.
func (h *History) Snapshot() []unifiedllm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]unifiedllm.Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Reset empties the log.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
