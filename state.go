package greenloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateIdle → StateRunning           [Run(), RunForever()]
//	StateRunning → StateIdle           [quiescent exit]
//	StateRunning → StateStopping       [Stop(), Destroy(), ctx cancellation]
//	StateStopping → StateIdle          [current iteration finished]
//	StateIdle → StateDestroyed         [Destroy(), or Run's exit after a deferred Destroy()]
//	StateDestroyed → (terminal)
//
// Use TryTransition (CAS) for every transition out of Running/Stopping, the
// run goroutine is the only writer allowed to Store StateIdle.
type LoopState uint32

const (
	// StateIdle indicates the loop is not running (created, or returned from Run).
	StateIdle LoopState = iota
	// StateRunning indicates Run or RunForever is iterating.
	StateRunning
	// StateStopping indicates a stop was requested; the current iteration finishes first.
	StateStopping
	// StateDestroyed indicates all OS resources have been released.
	StateDestroyed
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state cell with cache-line padding.
type fastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte     //nolint:unused
	v atomic.Uint32             // State value
	_ [sizeOfCacheLine - 4]byte //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsRunning returns true if Run or RunForever is active (including while stopping).
func (s *fastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateStopping
}
