package greenloop

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// signalTable is the per-loop signal dispatch table.
//
// Delivery is handled by a watcher goroutine per armed signal, which only
// sets the pending flag and wakes the loop. The loop converts pending flags
// into ready callbacks, in registration order.
type signalTable struct {
	handlers [nsig][]*Handle
	armed    [nsig]*signalWatcher
	pending  [nsig]atomic.Bool
	nArmed   int
}

type signalWatcher struct {
	ch   chan os.Signal
	done chan struct{}
}

// validateSignal rejects signal numbers outside [1, nsig), and signals that
// cannot be caught.
func validateSignal(sig unix.Signal) error {
	if sig < 1 || int(sig) >= nsig || sig == unix.SIGKILL || sig == unix.SIGSTOP {
		return &RangeError{Cause: ErrInvalidSignal, Message: fmt.Sprintf("greenloop: invalid signal %d", int(sig))}
	}
	return nil
}

// AddSignalHandler registers fn to run on the loop each time sig is
// delivered to the process. Several handlers may be registered for one
// signal: they run in registration order. Cancelling the returned handle
// removes only that handler. Owner-confined.
//
// Registered handlers do not keep Run from returning.
func (l *Loop) AddSignalHandler(sig unix.Signal, fn func()) (*Handle, error) {
	if err := validateSignal(sig); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, nilCallbackError("AddSignalHandler")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}

	h := l.newHandle(KindSignal, fn)
	h.target = int(sig)
	l.signals.handlers[sig] = append(l.signals.handlers[sig], h)
	if l.signals.armed[sig] == nil {
		l.armSignal(sig)
	}
	return h, nil
}

// RemoveSignalHandler removes every handler registered for sig, reporting
// whether there were any. Owner-confined.
func (l *Loop) RemoveSignalHandler(sig unix.Signal) (bool, error) {
	if err := validateSignal(sig); err != nil {
		return false, err
	}

	var removed bool
	for _, h := range l.signals.handlers[sig] {
		if !h.Cancelled() {
			removed = true
		}
		h.discard()
	}
	clear(l.signals.handlers[sig])
	l.signals.handlers[sig] = nil
	l.disarmSignal(sig)

	return removed, nil
}

func (l *Loop) armSignal(sig unix.Signal) {
	w := &signalWatcher{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	l.signals.armed[sig] = w
	l.signals.nArmed++
	signal.Notify(w.ch, sig)

	pending := &l.signals.pending[sig]
	go func() {
		for {
			select {
			case <-w.ch:
				pending.Store(true)
				l.wakeup()
			case <-w.done:
				return
			}
		}
	}()
}

func (l *Loop) disarmSignal(sig unix.Signal) {
	w := l.signals.armed[sig]
	if w == nil {
		return
	}
	signal.Stop(w.ch)
	close(w.done)
	l.signals.armed[sig] = nil
	l.signals.nArmed--
	l.signals.pending[sig].Store(false)
}

// dispatchSignals queues every live handler of each signal delivered since
// the previous call.
func (l *Loop) dispatchSignals() {
	if l.signals.nArmed == 0 {
		return
	}
	for sig := 1; sig < nsig; sig++ {
		if l.signals.armed[sig] == nil || !l.signals.pending[sig].Swap(false) {
			continue
		}
		for _, h := range l.signals.handlers[sig] {
			if !h.Cancelled() {
				l.ready = append(l.ready, h)
			}
		}
	}
}

// pruneSignal drops cancelled handlers of sig, disarming it once none
// remain.
func (l *Loop) pruneSignal(sig int) {
	handlers := l.signals.handlers[sig][:0]
	for _, h := range l.signals.handlers[sig] {
		if !h.Cancelled() {
			handlers = append(handlers, h)
		}
	}
	clear(l.signals.handlers[sig][len(handlers):])
	l.signals.handlers[sig] = handlers
	if len(handlers) == 0 {
		l.signals.handlers[sig] = nil
		l.disarmSignal(unix.Signal(sig))
	}
}

func (l *Loop) closeSignals() {
	for sig := 1; sig < nsig; sig++ {
		for _, h := range l.signals.handlers[sig] {
			h.discard()
		}
		l.signals.handlers[sig] = nil
		l.disarmSignal(unix.Signal(sig))
	}
}
