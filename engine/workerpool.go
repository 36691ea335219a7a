package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WorkResult is one completed CPU-bound job's outcome, drained by Exec at
// the top of each tick (§5's "the only multi-threaded producer into the
// loop").
type WorkResult struct {
	Value interface{}
	Err   error
}

// WorkerPool runs CPU-heavy jobs (fingerprinting, RSA/AES operations) off
// the loop goroutine, bounded to concurrency workers in flight via an
// errgroup, with results queued for single-threaded consumption by Exec.
type WorkerPool struct {
	g   *errgroup.Group
	sem chan struct{}

	results chan WorkResult

	mu      sync.Mutex
	pending int
}

// NewWorkerPool returns a pool bound to ctx that runs at most concurrency
// jobs at once and buffers up to concurrency*4 results before Submit's
// producer goroutine blocks on the results channel.
func NewWorkerPool(ctx context.Context, concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	g, _ := errgroup.WithContext(ctx)
	return &WorkerPool{
		g:       g,
		sem:     make(chan struct{}, concurrency),
		results: make(chan WorkResult, concurrency*4),
	}
}

// Submit runs job asynchronously and pushes its outcome onto Results once
// done. Submit itself never blocks: the job's goroutine waits for a
// concurrency slot.
func (p *WorkerPool) Submit(job func(ctx context.Context) (interface{}, error)) {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	p.g.Go(func() error {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		v, err := job(context.Background())
		p.results <- WorkResult{Value: v, Err: err}

		p.mu.Lock()
		p.pending--
		p.mu.Unlock()
		return nil
	})
}

// Results returns the channel Exec drains at the top of each tick.
func (p *WorkerPool) Results() <-chan WorkResult {
	return p.results
}

// Pending reports how many submitted jobs haven't yet produced a result.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Shutdown waits for all in-flight jobs to finish, for use when the
// engine itself is being torn down.
func (p *WorkerPool) Shutdown() error {
	return p.g.Wait()
}
