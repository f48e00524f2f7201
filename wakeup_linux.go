//go:build linux

package greenloop

import (
	"golang.org/x/sys/unix"
)

// nsig is one past the highest signal number that may be handled.
const nsig = 65

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
