//go:build linux

package execctx

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends. The read end is
// left blocking: the worker sleeps in read rather than in a poller.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	return fd, fd, err
}
