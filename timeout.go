package greenloop

import (
	"fmt"
	"time"
)

// Timeout raises an error into a task, at its current suspension point,
// once a deadline passes.
type Timeout struct {
	task   *Task
	handle *Handle
	err    error
}

// NewTimeout arms a timeout for the task. After d, if the task is
// suspended, it is resumed with err, or with a *TimeoutError if err is nil.
// Owner-confined.
func (t *Task) NewTimeout(d time.Duration, err error) (*Timeout, error) {
	if err == nil {
		err = &TimeoutError{Message: fmt.Sprintf("greenloop: timed out after %s", d)}
	}
	x := &Timeout{task: t, err: err}
	h, e := t.loop.CallLater(d, x.expire)
	if e != nil {
		return nil, e
	}
	x.handle = h
	return x, nil
}

func (x *Timeout) expire() {
	if x.task.state.Load() == taskSuspended {
		x.task.raise(x.err)
	}
}

// Err returns the error the timeout raises.
func (x *Timeout) Err() error {
	return x.err
}

// Cancel disarms the timeout. Safe to call more than once.
func (x *Timeout) Cancel() {
	x.handle.Cancel()
}

// Pending reports whether the timeout is armed and has not yet expired.
func (x *Timeout) Pending() bool {
	return x.handle.State() == HandlePending
}

// WithTimeout runs fn under a timeout of d, cancelling it once fn returns.
// A suspension of the task interrupted by the timeout returns the timeout's
// *TimeoutError, which fn is expected to propagate.
func (t *Task) WithTimeout(d time.Duration, fn func() error) error {
	x, err := t.NewTimeout(d, nil)
	if err != nil {
		return err
	}
	defer x.Cancel()
	return fn()
}
