package execctx

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
)

// Order is the position of an execution context in the global lock
// ordering. A context may synchronously enter (lock) another context only
// if its own order is strictly greater than the other's. Equal order is
// disallowed even between distinct instances, because equal order offers
// no acyclicity guarantee.
//
// Order is fixed for the lifetime of a context. Applications assign order
// values to composed contexts; values need only be consistent relative to
// the contexts actually in use, not globally unique.
type Order uint32

const (
	// OrderCritical is the order of the process-wide critical-section
	// context. It is never itself blocked by anything, so nothing ranks
	// below it.
	OrderCritical Order = 0

	// OrderThreadMin is the lowest order any publicly exposed thread-facing
	// context may use. The gap below it leaves room for private contexts
	// wrapped inside composed backends.
	OrderThreadMin Order = 16

	// OrderNever is the maximal order: a context with this order may call
	// into everything, and nothing may call into it.
	OrderNever Order = math.MaxUint32
)

// ExecutionContext is a scheduling capability with synchronous entry
// (Lock/Unlock/TryLock) and asynchronous entry (Post), carrying an order
// used for deadlock prevention.
//
// Whether Lock is re-entrant depends on the backend's underlying
// primitive; neither provided backend is re-entrant.
type ExecutionContext interface {
	// Lock enters the context, blocking until it is available.
	Lock()

	// Unlock exits the context. It must only be called by the goroutine
	// that entered it.
	Unlock()

	// TryLock attempts to enter the context without blocking. This is the
	// entry used by signal paths and teardown gates.
	TryLock() bool

	// Post schedules r's callback to run later with the context locked.
	// It never blocks and never allocates, and is safe to call from any
	// goroutine, including producers modelling interrupt context. Posting
	// a token that is already pending panics; see Runnable.
	Post(r *Runnable) error

	// Order returns the context's immutable order.
	Order() Order

	// AssertContext panics unless the calling goroutine currently holds
	// this context. Components that require their callbacks to run in a
	// known context use this for self-checking.
	AssertContext()

	// AssertCallable panics unless this context's order is strictly
	// greater than other's, i.e. unless this context may synchronously
	// call into other.
	AssertCallable(other ExecutionContext)
}

// assertCallable is the shared ordering check backing AssertCallable.
//
// Ordering violations are programmer errors, detected only when the
// assertion is actually invoked. There is no recoverable path because
// continuing risks silent deadlock.
func assertCallable(from, to ExecutionContext) {
	if from.Order() <= to.Order() {
		panic(fmt.Sprintf(
			"execctx: lock ordering violation: context with order %d may not call into context with order %d",
			from.Order(), to.Order(),
		))
	}
}

// holder tracks the goroutine currently inside a context, for
// AssertContext. Backends record on entry and clear before exit.
type holder struct {
	gid atomic.Uint64
}

func (h *holder) acquired() {
	h.gid.Store(getGoroutineID())
}

func (h *holder) released() {
	h.gid.Store(0)
}

func (h *holder) held() bool {
	return h.gid.Load() == getGoroutineID()
}

func (h *holder) assert() {
	if !h.held() {
		panic("execctx: context assertion failed: calling goroutine does not hold this context")
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
