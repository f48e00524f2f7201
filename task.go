package greenloop

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// TaskFunc is the body of a cooperative task.
type TaskFunc func(t *Task) error

const (
	taskCreated uint32 = iota
	taskRunning
	taskSuspended
	taskDead
)

// Task is a cooperative unit of work scheduled by a loop.
//
// The body runs on its own goroutine, but only while the loop has handed
// control to it: the loop waits until the task suspends or returns, so a
// task never runs concurrently with callbacks of its loop, and may use the
// loop's owner-confined methods. A task suspends only at Suspend and the
// helpers built on it (Sleep, Yield, Future.Wait, WaitFutures).
type Task struct {
	loop   *Loop
	fn     TaskFunc
	resume chan error
	yield  chan struct{}
	done   chan struct{}
	err    error
	// disarm undoes the arm function of the current suspension
	disarm func()
	// onFinish is called once the task is dead, on the goroutine driving it
	onFinish  func(err error)
	gen       uint64
	id        uint64
	goroutine atomic.Uint64
	state     atomic.Uint32
}

// Spawn schedules fn to start as a task on the next pass of the loop. The
// task counts as live, keeping Run from returning, until fn returns.
// A panic in fn is reported as a callback fault, and stored as Err.
// Owner-confined.
func (l *Loop) Spawn(fn TaskFunc) (*Task, error) {
	if fn == nil {
		return nil, nilCallbackError("Spawn")
	}
	t := &Task{
		loop:   l,
		fn:     fn,
		resume: make(chan error),
		yield:  make(chan struct{}),
		done:   make(chan struct{}),
		id:     l.handleIDs.Add(1),
	}
	if _, err := l.CallSoon(t.start); err != nil {
		return nil, err
	}
	l.tasks[t] = struct{}{}
	l.liveTasks.Add(1)
	return t, nil
}

// Loop returns the loop the task belongs to.
func (t *Task) Loop() *Loop {
	return t.loop
}

// Alive reports whether the task's function has not yet returned.
func (t *Task) Alive() bool {
	return t.state.Load() != taskDead
}

// Done is closed once the task's function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the error the task finished with. Only valid after Done.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// String returns a short description, for logging.
func (t *Task) String() string {
	switch t.state.Load() {
	case taskCreated:
		return fmt.Sprintf("Task(%d created)", t.id)
	case taskRunning:
		return fmt.Sprintf("Task(%d running)", t.id)
	case taskSuspended:
		return fmt.Sprintf("Task(%d suspended)", t.id)
	default:
		return fmt.Sprintf("Task(%d dead)", t.id)
	}
}

// start hands control to a new task, until it first suspends or returns.
func (t *Task) start() {
	if !t.state.CompareAndSwap(taskCreated, taskRunning) {
		return
	}
	go t.main()
	<-t.yield
}

func (t *Task) main() {
	t.goroutine.Store(getGoroutineID())

	var (
		err    error
		normal bool
	)
	defer func() {
		if !normal {
			if r := recover(); r != nil {
				pe := &PanicError{Value: r, Stack: debug.Stack()}
				t.loop.reportFault(nil, pe)
				err = pe
			} else {
				err = ErrGoexit
			}
		}
		t.finish(err)
	}()

	err = t.fn(t)
	normal = true
}

// finish runs on the task goroutine while the loop waits for it.
func (t *Task) finish(err error) {
	t.err = err
	t.disarm = nil
	t.state.Store(taskDead)
	delete(t.loop.tasks, t)
	t.loop.liveTasks.Add(-1)
	close(t.done)
	if t.onFinish != nil {
		t.onFinish(err)
	}
	t.yield <- struct{}{}
}

// Suspend parks the task until it is resumed, returning the error it was
// resumed with.
//
// arm is called before the task parks, and must arrange for resume to be
// called, from any goroutine, once the awaited condition holds. Only the
// first resume of a suspension has an effect. The optional disarm function
// returned by arm is called if the task is resumed by another means, e.g.
// Throw. Suspend must be called from the task's own function.
func (t *Task) Suspend(arm func(resume func(error)) (disarm func())) error {
	if t.state.Load() != taskRunning || getGoroutineID() != t.goroutine.Load() {
		return ErrTaskNotRunning
	}
	if t.loop.state.Load() == StateDestroyed {
		return ErrLoopDestroyed
	}

	t.gen++
	gen := t.gen
	t.state.Store(taskSuspended)
	t.disarm = arm(func(err error) {
		t.loop.post(func() { t.wake(gen, err) })
	})

	t.yield <- struct{}{}
	return <-t.resume
}

// wake hands control back to a suspended task, if gen is still its current
// suspension, until it suspends again or returns.
func (t *Task) wake(gen uint64, err error) {
	if t.state.Load() != taskSuspended || t.gen != gen {
		return
	}
	if disarm := t.disarm; disarm != nil {
		t.disarm = nil
		disarm()
	}
	t.state.Store(taskRunning)
	t.resume <- err
	<-t.yield
}

// Sleep suspends the task for at least d.
func (t *Task) Sleep(d time.Duration) error {
	return t.Suspend(func(resume func(error)) func() {
		h, err := t.loop.CallLater(d, func() { resume(nil) })
		if err != nil {
			resume(err)
			return nil
		}
		return h.Cancel
	})
}

// Yield suspends the task until the next pass of the loop, letting other
// ready callbacks run.
func (t *Task) Yield() error {
	return t.Suspend(func(resume func(error)) func() {
		h, err := t.loop.CallSoon(func() { resume(nil) })
		if err != nil {
			resume(err)
			return nil
		}
		return h.Cancel
	})
}

// Throw resumes the task with err, from its current suspension point, on a
// subsequent pass of the loop. It is a no-op if the task is not suspended
// by then. Safe to call from any goroutine.
func (t *Task) Throw(err error) error {
	if !t.Alive() {
		return ErrTaskNotRunning
	}
	if t.loop.state.Load() == StateDestroyed {
		return ErrLoopDestroyed
	}
	t.loop.post(func() { t.raise(err) })
	return nil
}

// raise resumes the current suspension of t with err. Must be called by
// the goroutine driving the loop.
func (t *Task) raise(err error) {
	t.wake(t.gen, err)
}

// failTasks finishes every remaining task with err: suspended tasks are
// resumed with it, tasks not yet started never start.
func (l *Loop) failTasks(err error) {
	for t := range l.tasks {
		switch t.state.Load() {
		case taskCreated:
			if t.state.CompareAndSwap(taskCreated, taskDead) {
				t.err = err
				delete(l.tasks, t)
				l.liveTasks.Add(-1)
				close(t.done)
				if t.onFinish != nil {
					t.onFinish(err)
				}
			}
		case taskSuspended:
			t.raise(err)
		}
	}
}
