package agentloop

import (
	"context"
	"sync"
)

// WorkerPool runs submitted jobs on a fixed set of goroutines. It bounds how
// many blocking tools execute at once.
type WorkerPool struct {
	jobs chan func()
	size int
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts size workers. size below 1 is treated as 1.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	p := &WorkerPool{jobs: make(chan func()), size: size}
	p.wg.Add(size)
	for range size {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Submit hands job to an idle worker, waiting until one is free or ctx is
// done. job must not panic.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for running ones to finish. It is safe
// to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
