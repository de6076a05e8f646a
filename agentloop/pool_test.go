package agentloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(3)
	assert.Equal(t, 3, pool.Size())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 10, ran.Load())

	pool.Close()
	pool.Close()
	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), ErrPoolClosed)
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Close()
	assert.Equal(t, 1, pool.Size())

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Submit(ctx, func() {}), context.Canceled)
	close(release)
}
