package greenloop

import (
	"golang.org/x/sync/semaphore"
)

// TaskPoolExecutor is an Executor running each submitted function as a task
// of its loop, at most a fixed number at a time. Functions submitted with
// SubmitTask may suspend. Unlike WorkerPool functions, they must not block.
//
// All methods are owner-confined.
type TaskPoolExecutor struct {
	loop    *Loop
	sem     *semaphore.Weighted
	queue   []taskPoolItem
	pending map[*Future]struct{}
	workers int
	closed  bool
}

type taskPoolItem struct {
	fn func(t *Task) (Result, error)
	f  *Future
}

var _ Executor = (*TaskPoolExecutor)(nil)

// NewTaskPoolExecutor returns an executor running at most workers tasks of
// the loop at a time. A non-positive workers uses DefaultExecutorWorkers.
func (l *Loop) NewTaskPoolExecutor(workers int) *TaskPoolExecutor {
	if workers <= 0 {
		workers = DefaultExecutorWorkers
	}
	return &TaskPoolExecutor{
		loop:    l,
		sem:     semaphore.NewWeighted(int64(workers)),
		pending: make(map[*Future]struct{}),
		workers: workers,
	}
}

// Workers returns the concurrency limit of the executor.
func (x *TaskPoolExecutor) Workers() int {
	return x.workers
}

// Submit implements Executor.
func (x *TaskPoolExecutor) Submit(fn func() (Result, error)) (*Future, error) {
	if fn == nil {
		return nil, nilCallbackError("Submit")
	}
	return x.SubmitTask(func(*Task) (Result, error) { return fn() })
}

// SubmitTask schedules fn to run as a task once fewer than Workers
// submissions are running, in submission order. Its result, error, panic
// (as a *PanicError) or runtime.Goexit (as ErrGoexit) is stored in the
// returned future. Failures are never reported as callback faults.
func (x *TaskPoolExecutor) SubmitTask(fn func(t *Task) (Result, error)) (*Future, error) {
	if fn == nil {
		return nil, nilCallbackError("SubmitTask")
	}
	if x.closed {
		return nil, ErrPoolClosed
	}
	if x.loop.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	f := newFuture()
	x.pending[f] = struct{}{}
	x.queue = append(x.queue, taskPoolItem{fn: fn, f: f})
	x.dispatch()
	return f, nil
}

// dispatch starts queued submissions while slots are free.
func (x *TaskPoolExecutor) dispatch() {
	for len(x.queue) > 0 && x.sem.TryAcquire(1) {
		item := x.queue[0]
		x.queue[0] = taskPoolItem{}
		x.queue = x.queue[1:]
		x.start(item)
	}
}

func (x *TaskPoolExecutor) start(item taskPoolItem) {
	task, err := x.loop.Spawn(func(t *Task) error {
		item.f.set(callWorker(func() (Result, error) { return item.fn(t) }))
		return nil
	})
	if err != nil {
		item.f.set(nil, err)
		delete(x.pending, item.f)
		x.sem.Release(1)
		return
	}
	task.onFinish = func(err error) {
		// no effect unless fn never returned, e.g. Goexit or Destroy
		item.f.set(nil, err)
		delete(x.pending, item.f)
		x.sem.Release(1)
		x.dispatch()
	}
}

// Pending returns the number of accepted submissions not yet completed.
func (x *TaskPoolExecutor) Pending() int {
	return len(x.pending)
}

// Close stops the executor accepting work. Submissions already accepted
// still run. Idempotent.
func (x *TaskPoolExecutor) Close() {
	x.closed = true
}

// Shutdown closes the executor, then suspends t until every accepted
// submission has completed.
func (x *TaskPoolExecutor) Shutdown(t *Task) error {
	x.Close()
	if t == nil {
		return &TypeError{Cause: ErrNilCallback, Message: "greenloop: Shutdown: task must not be nil"}
	}
	fs := make([]*Future, 0, len(x.pending))
	for f := range x.pending {
		fs = append(fs, f)
	}
	_, _, err := WaitFutures(t, fs, AllCompleted)
	return err
}
