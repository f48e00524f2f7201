package greenloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopRunning is returned when Run or RunForever is called on a loop that is already running.
	ErrLoopRunning = errors.New("greenloop: loop is already running")

	// ErrLoopNotRunning is returned by Stop when there is nothing to stop.
	ErrLoopNotRunning = errors.New("greenloop: loop is not running")

	// ErrLoopDestroyed is returned when operations are attempted on a destroyed loop.
	ErrLoopDestroyed = errors.New("greenloop: loop has been destroyed")

	// ErrLoopExists is returned by Registry.New when the calling goroutine already has a loop.
	ErrLoopExists = errors.New("greenloop: cannot create more than one loop per goroutine")

	// ErrNegativeDelay is the cause of the RangeError returned by CallLater for a negative delay.
	ErrNegativeDelay = errors.New("greenloop: delay must not be negative")

	// ErrNonPositiveInterval is the cause of the RangeError returned by CallRepeatedly.
	ErrNonPositiveInterval = errors.New("greenloop: interval must be positive")

	// ErrInvalidSignal is the cause of the RangeError returned for signals that cannot be handled.
	ErrInvalidSignal = errors.New("greenloop: invalid signal")

	// ErrNilCallback is the cause of the TypeError returned when a nil function is scheduled.
	ErrNilCallback = errors.New("greenloop: callback must not be nil")

	// ErrReaderRegistered is returned by AddReader when the fd already has a live reader.
	ErrReaderRegistered = errors.New("greenloop: another reader is already registered for fd")

	// ErrWriterRegistered is returned by AddWriter when the fd already has a live writer.
	ErrWriterRegistered = errors.New("greenloop: another writer is already registered for fd")

	// ErrPoolClosed is returned (or stored in the future) once a WorkerPool has been closed.
	ErrPoolClosed = errors.New("greenloop: worker pool is closed")

	// ErrFuturePending is returned by Future.Result before the future completes.
	ErrFuturePending = errors.New("greenloop: future is not done")

	// ErrTaskNotRunning is returned when a suspension point is used outside the task's own goroutine.
	ErrTaskNotRunning = errors.New("greenloop: task is not running")

	// ErrGoexit is stored when offloaded work or a task exits via runtime.Goexit.
	ErrGoexit = errors.New("greenloop: goroutine exited via runtime.Goexit")
)

// PanicError wraps a recovered panic value, from a callback, a task or
// offloaded work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("greenloop: panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, enabling [errors.Is] and
// [errors.As] through the panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RangeError is a usage error, for an argument outside the accepted range.
type RangeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	if e.Message == "" {
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return "range error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RangeError) Unwrap() error {
	return e.Cause
}

// TypeError is a usage error, for an argument of the wrong kind (e.g. nil).
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// TimeoutError is raised into a task by an expired [Timeout].
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "greenloop: operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IsUsageError reports whether err is a usage error: a scheduling argument
// outside its range, a nil callback, or Stop on a loop that is not running.
func IsUsageError(err error) bool {
	var (
		rangeErr *RangeError
		typeErr  *TypeError
	)
	return errors.As(err, &rangeErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, ErrLoopNotRunning)
}

func nilCallbackError(op string) error {
	return &TypeError{Cause: ErrNilCallback, Message: fmt.Sprintf("greenloop: %s: callback must not be nil", op)}
}
