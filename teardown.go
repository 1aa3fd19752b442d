package execctx

import (
	"sync"

	"github.com/notorious-go/sync/semaphore"
)

// Teardown protocols for async-driven resources.
//
// A resource's shutdown path must stop the event source feeding its
// operation queue and wait for in-flight signal handling to finish, but
// holding the resource's main lock across that wait can deadlock against a
// concurrent signal handler that needs the same lock. Three interchangeable
// protocols avoid this, each with distinct caller obligations:
//
//   - Separate init/deinit guard ([InitGuard]): a second mutex serializes
//     init against deinit; the wait for in-flight work happens outside the
//     main lock. init/deinit must never be invoked while the main lock is
//     already held by the same call stack.
//   - Try-lock in the signal path: built into [OperationQueue.Signal].
//     The signal path try-locks the main context and silently defers when
//     it is unavailable. Signal-path invocations must be serialized
//     externally.
//   - Dedicated abort lock ([AbortGate]): a second lock held by deinit for
//     its whole duration, try-acquired by the signal path; the main lock
//     still protects shared state. Same external serialization
//     requirement; deinit must not be called while holding the main lock.
//
// All three guarantee that deinit eventually completes and that deferred
// work either runs or is provably superseded by the shutdown.

// InitGuard serializes a resource's init and deinit paths against each
// other. Their critical sections never interleave: exactly one completes
// before the other begins.
//
// The zero value is ready to use.
type InitGuard struct {
	mu sync.Mutex
}

// Init runs fn with the guard held.
//
// fn must not acquire the resource's main lock for a wait on in-flight
// work; waits belong outside the main lock.
func (g *InitGuard) Init(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Deinit runs fn with the guard held, excluding concurrent Init/Deinit.
func (g *InitGuard) Deinit(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// AbortGate is the dedicated-abort-lock teardown protocol: deinit holds
// the gate for its whole duration, and the signal path try-acquires it,
// silently deferring while a deinit is in flight.
//
// Construct with [NewAbortGate].
type AbortGate struct {
	s semaphore.Semaphore
}

// NewAbortGate creates an abort gate.
func NewAbortGate() *AbortGate {
	return &AbortGate{s: semaphore.New(1)}
}

// Deinit runs fn holding the gate, blocking out the signal path for fn's
// whole duration. The caller must not hold the resource's main lock.
func (g *AbortGate) Deinit(fn func()) {
	g.s.Acquire()
	defer g.s.Release()
	fn()
}

// TrySignal runs fn if no deinit is in flight, reporting whether it ran.
// When it reports false the pending work was either already subsumed by
// the shutdown or must be retried by the caller's producer.
func (g *AbortGate) TrySignal(fn func()) bool {
	if !g.s.TryAcquire() {
		return false
	}
	defer g.s.Release()
	fn()
	return true
}
