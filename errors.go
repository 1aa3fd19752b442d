package execctx

import "errors"

// Standard errors.
//
// These cover operational conditions only. Contract violations (wrong
// context, lock-ordering violations, double-posting, reusing a started
// operation) are programmer errors and panic instead; see the package
// documentation.
var (
	// ErrWorkerAlreadyRunning is returned when Run is called on a worker
	// that is already running.
	ErrWorkerAlreadyRunning = errors.New("execctx: worker is already running")

	// ErrWorkerTerminated is returned when operations are attempted on a
	// worker that has been shut down.
	ErrWorkerTerminated = errors.New("execctx: worker has been terminated")

	// ErrReentrantRun is returned when Run is called from within the
	// worker's own dispatch loop.
	ErrReentrantRun = errors.New("execctx: cannot call Run from within the worker")
)
