package agentloop

import (
	"context"
	"iter"

	"github.com/martinemde/agentrt/unifiedllm"
)

// RunStream is Run with token streaming. Text deltas of every model turn are
// yielded as they arrive; tool calls are dispatched between turns exactly as
// in Run. A fatal error ends the sequence with a final ("", err) pair, after
// all tokens already produced.
//
// Breaking out of the loop cancels the model call in progress and starts no
// further turn. Tools still running at that point are abandoned.
func (r *Runtime) RunStream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		deliver := func(delta string) bool {
			if stopped {
				return false
			}
			if !yield(delta, nil) {
				stopped = true
				cancel()
				return false
			}
			return true
		}

		_, err := r.run(ctx, text, func(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
			return r.streamTurn(ctx, req, deliver)
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// streamTurn consumes one model stream, forwarding deltas, and returns the
// complete response carried by its finish event.
func (r *Runtime) streamTurn(ctx context.Context, req unifiedllm.Request, deliver func(string) bool) (*unifiedllm.Response, error) {
	ch, err := r.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	acc := unifiedllm.NewStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, &unifiedllm.StreamProtocolError{SDKError: unifiedllm.SDKError{Message: "stream closed without a final response"}}
			}
			acc.Process(ev)
			switch ev.Type {
			case unifiedllm.TextDelta:
				if ev.Delta == "" {
					continue
				}
				r.emit(EventTextDelta, map[string]any{"delta": ev.Delta})
				if !deliver(ev.Delta) {
					return nil, context.Canceled
				}
			case unifiedllm.StreamError:
				if ev.Error == nil {
					return nil, &unifiedllm.StreamProtocolError{SDKError: unifiedllm.SDKError{Message: "stream failed without an error"}}
				}
				return nil, ev.Error
			case unifiedllm.StreamFinish:
				return acc.Response(), nil
			}
		}
	}
}
