package greenloop

import (
	"iter"
	"sync"
)

// Result is the value produced by offloaded work.
type Result = any

// Future is the eventual outcome of offloaded work.
type Future struct {
	done      chan struct{}
	result    Result
	err       error
	callbacks []func(*Future)
	mu        sync.Mutex
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// set completes the future. Only the first call has an effect.
func (f *Future) set(result Result, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.result, f.err = result, err
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(f)
	}
	return true
}

// Done is closed once the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking, or ErrFuturePending.
func (f *Future) Result() (Result, error) {
	if !f.IsDone() {
		return nil, ErrFuturePending
	}
	return f.result, f.err
}

// AddDoneCallback arranges for fn to be called once the future completes,
// on the completing goroutine. If the future is already done, fn is called
// immediately, on the calling goroutine.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	f.mu.Lock()
	if !f.IsDone() {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

// Wait returns the outcome of the future once it completes. Within a task
// (t non-nil), only the task is suspended while the loop keeps running;
// with a nil t, Wait blocks the calling goroutine.
//
// A task resumed by another means, e.g. a Timeout, returns the error it was
// resumed with.
func (f *Future) Wait(t *Task) (Result, error) {
	if t == nil {
		<-f.done
		return f.result, f.err
	}
	if f.IsDone() {
		return f.result, f.err
	}
	if err := t.Suspend(func(resume func(error)) func() {
		f.AddDoneCallback(func(*Future) { resume(nil) })
		return nil
	}); err != nil {
		return nil, err
	}
	return f.result, f.err
}

// ReturnWhen selects the completion condition of WaitFutures.
type ReturnWhen int

const (
	// AllCompleted waits for every future.
	AllCompleted ReturnWhen = iota
	// FirstCompleted waits for any future.
	FirstCompleted
	// FirstException waits for any future to fail, or for every future.
	FirstException
)

// WaitFutures waits, as Future.Wait does, until the condition selected by
// returnWhen holds, then partitions fs into completed and pending futures.
func WaitFutures(t *Task, fs []*Future, returnWhen ReturnWhen) (done, pending []*Future, err error) {
	for {
		done, pending = partitionFutures(fs)
		if waitSatisfied(returnWhen, done, pending) {
			return done, pending, nil
		}
		if err := waitAnyFuture(t, pending); err != nil {
			return done, pending, err
		}
	}
}

// AsCompleted iterates over fs in the order they complete, waiting as
// Future.Wait does between completions. Futures already done are yielded
// first, in input order. If a wait is interrupted, e.g. by a Timeout, the
// error is yielded with a nil future and iteration ends.
func AsCompleted(t *Task, fs []*Future) iter.Seq2[*Future, error] {
	return func(yield func(*Future, error) bool) {
		pending := fs
		for len(pending) > 0 {
			var done []*Future
			done, pending = partitionFutures(pending)
			for _, f := range done {
				if !yield(f, nil) {
					return
				}
			}
			if len(pending) == 0 {
				return
			}
			if err := waitAnyFuture(t, pending); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func partitionFutures(fs []*Future) (done, pending []*Future) {
	for _, f := range fs {
		if f.IsDone() {
			done = append(done, f)
		} else {
			pending = append(pending, f)
		}
	}
	return done, pending
}

func waitSatisfied(returnWhen ReturnWhen, done, pending []*Future) bool {
	if len(pending) == 0 {
		return true
	}
	switch returnWhen {
	case FirstCompleted:
		return len(done) > 0
	case FirstException:
		for _, f := range done {
			if f.err != nil {
				return true
			}
		}
	}
	return false
}

func waitAnyFuture(t *Task, fs []*Future) error {
	if t == nil {
		ch := make(chan struct{}, 1)
		for _, f := range fs {
			f.AddDoneCallback(func(*Future) {
				select {
				case ch <- struct{}{}:
				default:
				}
			})
		}
		<-ch
		return nil
	}
	return t.Suspend(func(resume func(error)) func() {
		for _, f := range fs {
			f.AddDoneCallback(func(*Future) { resume(nil) })
		}
		return nil
	})
}
