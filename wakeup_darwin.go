//go:build darwin

package execctx

import (
	"syscall"
)

// createWakeFd creates a self-pipe for wake-up notifications (Darwin).
// Returns the read end and the write end of the pipe. The read end is
// left blocking (the worker sleeps in read); the write end is
// non-blocking so a full pipe never stalls Post; any byte already in the
// pipe is wake-up enough.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}

	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])

	if err := syscall.SetNonblock(fds[1], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}
