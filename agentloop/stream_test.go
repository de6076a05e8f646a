package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentrt/unifiedllm"
)

func collect(t *testing.T, rt *Runtime, ctx context.Context, prompt string) ([]string, error) {
	t.Helper()
	var deltas []string
	var last error
	for delta, err := range rt.RunStream(ctx, prompt) {
		if err != nil {
			last = err
			continue
		}
		deltas = append(deltas, delta)
	}
	return deltas, last
}

func TestRunStreamMatchesRun(t *testing.T) {
	turns := func() *scriptedClient {
		return script(
			toolUse("Let me add those. ", call("c1", "add", `{"a":3,"b":5}`)),
			final("The answer is 8."),
		)
	}
	newReg := func() *Registry {
		reg := NewRegistry()
		reg.MustRegister(AddTool())
		return reg
	}

	blocking := newTestRuntime(t, turns(), newReg())
	want, err := blocking.Run(context.Background(), "3+5")
	require.NoError(t, err)

	streaming := newTestRuntime(t, turns(), newReg())
	deltas, err := collect(t, streaming, context.Background(), "3+5")
	require.NoError(t, err)
	assert.Equal(t, want, strings.Join(deltas, ""))
	assert.Greater(t, len(deltas), 2)
	assert.Equal(t, StateDone, streaming.State())
	assert.Len(t, streaming.History(), len(blocking.History()))
}

func TestRunStreamEndsWithError(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(AddTool())
	client := script(toolUse("again", call("c", "add", `{"a":1,"b":1}`)))
	rt := newTestRuntime(t, client, reg, withMaxIterations(2))

	var items []string
	var errs []error
	for delta, err := range rt.RunStream(context.Background(), "hi") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		require.Empty(t, errs, "no deltas after the error")
		items = append(items, delta)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrMaxIterationsExceeded)
	assert.Equal(t, "againagainagain", strings.Join(items, ""))
	assert.Equal(t, 3, client.Calls())
}

func TestRunStreamConsumerBreak(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(AddTool())
	client := script(
		toolUse("thinking hard", call("c", "add", `{"a":1,"b":1}`)),
		final("2"),
	)
	rt := newTestRuntime(t, client, reg)

	for delta, err := range rt.RunStream(context.Background(), "hi") {
		require.NoError(t, err)
		assert.Equal(t, "thi", delta)
		break
	}
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, StateFailed, rt.State())

	answer, err := rt.Run(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "2", answer)
}

// hangingClient streams one delta and then waits for cancellation.
type hangingClient struct{}

func (hangingClient) Complete(ctx context.Context, _ unifiedllm.Request) (*unifiedllm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingClient) Stream(ctx context.Context, _ unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	ch := make(chan unifiedllm.StreamEvent)
	go func() {
		defer close(ch)
		select {
		case ch <- unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: "partial"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func TestRunStreamContextCanceled(t *testing.T) {
	rt := newTestRuntime(t, hangingClient{}, NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deltas []string
	var last error
	for delta, err := range rt.RunStream(ctx, "hi") {
		if err != nil {
			last = err
			continue
		}
		deltas = append(deltas, delta)
		cancel()
	}
	assert.Equal(t, []string{"partial"}, deltas)
	assert.ErrorIs(t, last, context.Canceled)
	assert.Equal(t, StateFailed, rt.State())
}

type failingStreamClient struct{ scriptedClient }

func (*failingStreamClient) Stream(context.Context, unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	return nil, errors.New("connection refused")
}

func TestRunStreamOpenError(t *testing.T) {
	rt := newTestRuntime(t, &failingStreamClient{}, NewRegistry())
	deltas, err := collect(t, rt, context.Background(), "hi")
	assert.Empty(t, deltas)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, rt.History(), 1)
}

// erroringStreamClient emits a delta and then a stream error event.
type erroringStreamClient struct{ scriptedClient }

func (*erroringStreamClient) Stream(context.Context, unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	ch := make(chan unifiedllm.StreamEvent, 2)
	ch <- unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: "half"}
	ch <- unifiedllm.StreamEvent{Type: unifiedllm.StreamError}
	close(ch)
	return ch, nil
}

func TestRunStreamErrorEvent(t *testing.T) {
	rt := newTestRuntime(t, &erroringStreamClient{}, NewRegistry())
	deltas, err := collect(t, rt, context.Background(), "hi")
	assert.Equal(t, []string{"half"}, deltas)
	var protoErr *unifiedllm.StreamProtocolError
	assert.ErrorAs(t, err, &protoErr)
}
