package greenloop

import (
	"context"
	"runtime/debug"

	"github.com/joeycumines/go-greenloop/internal/workerpool"
	"golang.org/x/sync/errgroup"
)

// Executor runs blocking functions off the loop goroutine.
type Executor interface {
	Submit(fn func() (Result, error)) (*Future, error)
}

// WorkerPool is an Executor backed by a bounded set of goroutines.
type WorkerPool struct {
	pool *workerpool.Pool
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool returns a pool running at most workers functions at a time.
// A non-positive workers uses DefaultExecutorWorkers.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = DefaultExecutorWorkers
	}
	return &WorkerPool{pool: workerpool.New(workers)}
}

// Spawn runs fn on a worker goroutine. Its result, error, panic (as a
// *PanicError) or runtime.Goexit (as ErrGoexit) is stored in the returned
// future. Work still queued when the pool is closed fails with
// ErrPoolClosed.
func (p *WorkerPool) Spawn(fn func() (Result, error)) (*Future, error) {
	if fn == nil {
		return nil, nilCallbackError("Spawn")
	}
	f := newFuture()
	if err := p.pool.Go(
		func() { f.set(callWorker(fn)) },
		func(error) { f.set(nil, ErrPoolClosed) },
	); err != nil {
		return nil, ErrPoolClosed
	}
	return f, nil
}

// Submit implements Executor.
func (p *WorkerPool) Submit(fn func() (Result, error)) (*Future, error) {
	return p.Spawn(fn)
}

// Workers returns the concurrency limit of the pool.
func (p *WorkerPool) Workers() int {
	return p.pool.Workers()
}

// Close stops the pool accepting work. Running work is not interrupted.
func (p *WorkerPool) Close() {
	p.pool.Close()
}

// Closed reports whether Close has been called.
func (p *WorkerPool) Closed() bool {
	return p.pool.Closed()
}

// Wait blocks until all work submitted before Close has finished, or ctx
// is done.
func (p *WorkerPool) Wait(ctx context.Context) error {
	return p.pool.Wait(ctx)
}

// callWorker runs fn, capturing a panic or runtime.Goexit as the error.
func callWorker(fn func() (Result, error)) (result Result, err error) {
	var normal bool
	defer func() {
		if !normal {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			} else {
				err = ErrGoexit
			}
		}
	}()
	result, err = fn()
	normal = true
	return
}

// Map runs fn for each item on the pool, blocking until all are done, and
// returns the results in input order. The first failure cancels the
// context passed to the remaining calls, and is returned.
//
// Map blocks the calling goroutine: within a task, Spawn the calls and use
// WaitFutures instead.
func Map[T, R any](ctx context.Context, p *WorkerPool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			f, err := p.Spawn(func() (Result, error) {
				return fn(ctx, item)
			})
			if err != nil {
				return err
			}
			select {
			case <-f.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			v, err := f.Result()
			if err != nil {
				return err
			}
			results[i], _ = v.(R)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// WorkerPool returns the pool owned by the loop, creating it on first use
// with the WithWorkers size. Destroy closes it. A pool closed other than by
// Destroy is replaced by a new one.
func (l *Loop) WorkerPool() *WorkerPool {
	l.execMu.Lock()
	defer l.execMu.Unlock()
	if l.pool == nil || (!l.poolClosed && l.pool.Closed()) {
		l.pool = NewWorkerPool(l.workers)
		if l.poolClosed {
			l.pool.Close()
		}
	}
	return l.pool
}

// SetDefaultExecutor replaces the executor RunInExecutor uses when given a
// nil executor. A nil ex restores the loop's own WorkerPool.
func (l *Loop) SetDefaultExecutor(ex Executor) {
	l.execMu.Lock()
	l.executor = ex
	l.execMu.Unlock()
}

// RunInExecutor offloads fn to ex, or to the default executor if ex is nil.
// A failure of fn is reported through the future, never as a callback fault.
func (l *Loop) RunInExecutor(ex Executor, fn func() (Result, error)) (*Future, error) {
	if fn == nil {
		return nil, nilCallbackError("RunInExecutor")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	if ex == nil {
		l.execMu.Lock()
		ex = l.executor
		l.execMu.Unlock()
		if ex == nil {
			ex = l.WorkerPool()
		}
	}
	return ex.Submit(fn)
}
