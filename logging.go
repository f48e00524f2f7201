package greenloop

import (
	"log"
	"runtime/debug"
)

// logCritical logs failures of the loop itself, such as a failed poll.
// Safe with a nil or panicking logger.
func (l *Loop) logCritical(msg string, err error) {
	if l.logger == nil {
		log.Printf("CRITICAL: greenloop: %s: %v", msg, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL: greenloop: %s: %v (logger panicked: %v)", msg, err, r)
		}
	}()
	l.logger.Crit().
		Uint64("loop", l.id).
		Err(err).
		Log(msg)
}

// logError logs a recoverable failure. Safe with a nil or panicking logger.
func (l *Loop) logError(msg string, h *Handle, err error) {
	if l.logger == nil {
		if h != nil {
			log.Printf("ERROR: greenloop: %s: %s: %v", msg, h, err)
		} else {
			log.Printf("ERROR: greenloop: %s: %v", msg, err)
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: greenloop: %s: %v (logger panicked: %v)", msg, err, r)
		}
	}()
	b := l.logger.Err().
		Uint64("loop", l.id).
		Err(err)
	if h != nil {
		b = b.Uint64("handle", h.id).
			Str("kind", h.kind.String())
	}
	b.Log(msg)
}

// logDebug logs lifecycle transitions. Nothing is logged without a logger.
func (l *Loop) logDebug(msg string) {
	if l.logger == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	l.logger.Debug().
		Uint64("loop", l.id).
		Str("state", l.state.Load().String()).
		Log(msg)
}

// reportFault delivers a callback, task or worker failure to the exception
// handler, or logs it, subject to the fault log rate limits. h is nil for
// task faults.
func (l *Loop) reportFault(h *Handle, err error) {
	if l.exceptionHandler != nil {
		if l.callExceptionHandler(h, err) {
			return
		}
	}

	var category any = "task"
	if h != nil {
		category = h.kind
	}
	if _, ok := l.faultLimiter.Allow(category); !ok {
		l.suppressedFaults.Add(1)
		return
	}
	l.logError("callback fault", h, err)
}

// callExceptionHandler returns false if the handler panicked, in which case
// the handler's panic has been logged and the original fault must be too.
func (l *Loop) callExceptionHandler(h *Handle, err error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logError("exception handler panicked", h, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	l.exceptionHandler(h, err)
	return true
}

// SuppressedFaults returns the number of callback fault log lines dropped
// by the fault log rate limits.
func (l *Loop) SuppressedFaults() uint64 {
	return l.suppressedFaults.Load()
}
