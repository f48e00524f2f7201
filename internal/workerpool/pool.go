// Package workerpool runs functions on goroutines, at most a fixed number
// at a time.
package workerpool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Go, and passed to abort functions, once the
// pool is closed.
var ErrClosed = errors.New("workerpool: closed")

// Pool is a bounded goroutine runner. Work waiting for a slot is started in
// no particular order.
type Pool struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	workers int
	closed  bool
}

// New returns a pool running at most workers functions concurrently.
// It panics if workers is not positive.
func New(workers int) *Pool {
	if workers <= 0 {
		panic(`workerpool: workers must be positive`)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
	}
}

// Workers returns the concurrency limit of the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Go runs task once a slot is free. If the pool is closed before that,
// abort is called with ErrClosed instead. Go never blocks.
func (p *Pool) Go(task func(), abort func(error)) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			abort(ErrClosed)
			return
		}
		defer p.sem.Release(1)
		if p.ctx.Err() != nil {
			abort(ErrClosed)
			return
		}
		task()
	}()

	return nil
}

// Close stops accepting work, and aborts work still waiting for a slot.
// Running work is not interrupted. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Wait blocks until all submitted work has finished or been aborted, or
// ctx is done. It should be called after Close.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
