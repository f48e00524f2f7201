package greenloop

import (
	"fmt"
	"sync/atomic"
	"time"
)

// HandleKind identifies what scheduled a [Handle].
type HandleKind uint8

const (
	// KindImmediate is a one-shot callback from CallSoon or CallFromThread.
	KindImmediate HandleKind = iota
	// KindDelayed is a one-shot timer from CallLater.
	KindDelayed
	// KindRepeating is a timer from CallRepeatedly.
	KindRepeating
	// KindSignal is a signal handler from AddSignalHandler.
	KindSignal
	// KindIO is an fd readiness watcher from AddReader or AddWriter.
	KindIO
)

// String returns a human-readable representation of the kind.
func (k HandleKind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindDelayed:
		return "delayed"
	case KindRepeating:
		return "repeating"
	case KindSignal:
		return "signal"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// HandleState is the lifecycle state of a [Handle].
//
//	HandlePending → HandleCancelled   [Cancel()]
//	HandlePending → HandleFired       [dispatch]
//	HandleFired → HandlePending       [KindRepeating re-insertion only]
//	HandleFired → HandleCancelled     [KindRepeating only, e.g. from its own callback]
type HandleState uint32

const (
	// HandlePending indicates the work has not run (or, for signal and io
	// handles, remains registered).
	HandlePending HandleState = iota
	// HandleCancelled is terminal: the callback will never run again.
	HandleCancelled
	// HandleFired indicates a one-shot callback ran, or a repeating callback
	// is currently running.
	HandleFired
)

// String returns a human-readable representation of the state.
func (s HandleState) String() string {
	switch s {
	case HandlePending:
		return "pending"
	case HandleCancelled:
		return "cancelled"
	case HandleFired:
		return "fired"
	default:
		return "unknown"
	}
}

// Handle is a cancellable token for one unit of scheduled work.
//
// The loop owns the work while it is pending; a Handle only allows the
// caller to observe and cancel it. Cancel may be called from any goroutine.
type Handle struct {
	loop     *Loop
	callback func()
	when     time.Time
	id       uint64
	interval time.Duration
	// fd or signal number, for KindIO and KindSignal
	target int
	state  atomic.Uint32
	kind   HandleKind
}

// Cancel prevents any future execution of the handle's callback. It is
// idempotent and never fails: cancelling a fired one-shot handle is a no-op.
//
// A callback that is already running is not interrupted.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	for {
		s := HandleState(h.state.Load())
		if s == HandleCancelled || (s == HandleFired && h.kind != KindRepeating) {
			return
		}
		if h.state.CompareAndSwap(uint32(s), uint32(HandleCancelled)) {
			break
		}
	}
	if h.loop != nil {
		h.loop.handleCancelled(h)
	}
}

// Cancelled reports whether Cancel took effect.
func (h *Handle) Cancelled() bool {
	return HandleState(h.state.Load()) == HandleCancelled
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Kind returns what scheduled the handle.
func (h *Handle) Kind() HandleKind {
	return h.kind
}

// When returns the deadline of the pending firing, for timer handles, and
// the zero time otherwise. Only meaningful on the loop goroutine, or while
// the loop is idle.
func (h *Handle) When() time.Time {
	return h.when
}

// Interval returns the repeat interval of a KindRepeating handle.
func (h *Handle) Interval() time.Duration {
	return h.interval
}

// String returns a short description, for logging.
func (h *Handle) String() string {
	if h == nil {
		return "Handle(nil)"
	}
	switch h.kind {
	case KindSignal:
		return fmt.Sprintf("Handle(%d %s sig=%d %s)", h.id, h.kind, h.target, h.State())
	case KindIO:
		return fmt.Sprintf("Handle(%d %s fd=%d %s)", h.id, h.kind, h.target, h.State())
	default:
		return fmt.Sprintf("Handle(%d %s %s)", h.id, h.kind, h.State())
	}
}

// fire claims a pending handle for execution.
func (h *Handle) fire() bool {
	return h.state.CompareAndSwap(uint32(HandlePending), uint32(HandleFired))
}

// rearm returns a fired repeating handle to pending, failing if it was
// cancelled while its callback ran.
func (h *Handle) rearm() bool {
	return h.state.CompareAndSwap(uint32(HandleFired), uint32(HandlePending))
}

// discard marks the handle cancelled without notifying the loop, for
// removals the loop performs itself.
func (h *Handle) discard() {
	h.state.Store(uint32(HandleCancelled))
}
