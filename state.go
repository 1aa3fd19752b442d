package execctx

import (
	"sync/atomic"
)

// WorkerState represents the current state of a worker context's dispatch
// loop.
//
// State machine:
//
//	WorkerIdle → WorkerRunning            [Run()]
//	WorkerRunning → WorkerSleeping        [dispatch loop, via CAS]
//	WorkerSleeping → WorkerRunning        [wake, via CAS]
//	WorkerIdle/Running/Sleeping → WorkerTerminating [Shutdown()]
//	WorkerTerminating → WorkerTerminated  [drain complete]
//
// Transition rules: use tryTransition (CAS) for the reversible states
// (Running, Sleeping); use store only for the irreversible tail
// (Terminated). Storing Running or Sleeping directly would break the CAS
// logic.
type WorkerState uint32

const (
	// WorkerIdle indicates the worker has been created but not started.
	WorkerIdle WorkerState = iota
	// WorkerRunning indicates the dispatch loop is actively processing tokens.
	WorkerRunning
	// WorkerSleeping indicates the loop is blocked waiting for a wake-up.
	WorkerSleeping
	// WorkerTerminating indicates shutdown has been requested but not completed.
	WorkerTerminating
	// WorkerTerminated indicates the worker is fully shut down.
	WorkerTerminated
)

// String returns a human-readable representation of the state.
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "Idle"
	case WorkerRunning:
		return "Running"
	case WorkerSleeping:
		return "Sleeping"
	case WorkerTerminating:
		return "Terminating"
	case WorkerTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// workerStateMachine is a lock-free state machine. Cache-line padding
// keeps the hot word from sharing a line with neighbouring fields.
type workerStateMachine struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint32 // state value
	_ [60]byte      //nolint:unused
}

func (s *workerStateMachine) load() WorkerState {
	return WorkerState(s.v.Load())
}

func (s *workerStateMachine) store(state WorkerState) {
	s.v.Store(uint32(state))
}

// tryTransition attempts to atomically transition from one state to
// another, reporting whether it succeeded. Pure CAS; transition validity
// is the caller's problem.
func (s *workerStateMachine) tryTransition(from, to WorkerState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
