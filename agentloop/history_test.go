package agentloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentrt/unifiedllm"
)

func TestHistoryCopies(t *testing.T) {
	h := NewHistory()
	msg := unifiedllm.UserMessage("hello")
	h.Append(msg, unifiedllm.AssistantMessage("hi"))
	msg.Content[0].Text = "changed"

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "hello", snap[0].TextContent())

	snap[0].Content[0].Text = "also changed"
	assert.Equal(t, "hello", h.Snapshot()[0].TextContent())

	h.Reset()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Snapshot())
}

func TestHistoryConcurrentReaders(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			h.Append(unifiedllm.UserMessage("x"))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = h.Snapshot()
		}
	}()
	wg.Wait()
	assert.Equal(t, 100, h.Len())
}
