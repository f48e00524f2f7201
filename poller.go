//go:build linux || darwin

package greenloop

import (
	"errors"
)

// The poller is the single blocking wait of the loop: it watches the wake fd
// (cross-goroutine submissions, signals, stop requests) together with any fd
// registered through AddReader/AddWriter, bounded by the next timer deadline.
//
// Implemented in platform-specific files:
//   - poller_linux.go (epoll)
//   - poller_darwin.go (kqueue)

// initialFDs is the initial size of the per-fd table, grown on demand.
const initialFDs = 1024

// maxFDLimit is the maximum FD value we support for dynamic growth.
const maxFDLimit = 100000000

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Poller errors.
var (
	ErrFDOutOfRange        = errors.New("greenloop: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("greenloop: fd already registered")
	ErrFDNotRegistered     = errors.New("greenloop: fd not registered")
	ErrPollerClosed        = errors.New("greenloop: poller closed")
)

// ioCallback is the callback type for I/O events.
type ioCallback func(IOEvents)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback ioCallback
	events   IOEvents
	active   bool
}

// growFDs returns fds, grown to hold fd if necessary.
func growFDs(fds []fdInfo, fd int) []fdInfo {
	if fd < len(fds) {
		return fds
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	newFds := make([]fdInfo, newSize)
	copy(newFds, fds)
	return newFds
}
