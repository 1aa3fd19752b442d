package execctx

import (
	"log"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Runnable token states.
//
//	idle --Post--> pending --dispatch--> running --fn returns--> finished
//	                  |
//	                  └──Cancel──> canceling --owner drains--> canceled
//
// A finished or canceled token may be bound and posted again; a pending,
// running, or canceling token may not. The canceling hop exists because a
// canceled token is still physically linked in its backend's pending list
// until the next drain severs it; accepting a repost earlier would let the
// push overwrite the live link and drop every token queued behind it.
const (
	runnableIdle uint32 = iota
	runnablePending
	runnableRunning
	runnableFinished
	runnableCanceling
	runnableCanceled
)

// Runnable is a reusable, fixed-layout handle for one future execution of
// a callback. The memory is owned by whoever constructed it (typically
// embedded in a parent struct or stack-allocated); the accepting context
// only holds a reference while the token is pending. At most one context
// may hold a token in flight at a time.
//
// The zero value is usable after Bind.
type Runnable struct {
	_ [0]func() // prevent copying

	fn func()

	// owner identifies, but never owns, the context the token was last
	// posted to. Written only while the token is idle or finished.
	owner ExecutionContext

	// next is the intrusive queue link used by the accepting backend while
	// the token is pending. It is the allocation-free scratch region: raw
	// byte scratch cannot hold pointers under the Go GC, so the node is a
	// typed field instead.
	next *Runnable

	state atomic.Uint32
}

// NewRunnable returns a token bound to fn. Equivalent to binding a zero
// value.
func NewRunnable(fn func()) *Runnable {
	r := &Runnable{}
	r.Bind(fn)
	return r
}

// Bind assigns the callback to run when the token is next posted. It does
// not itself schedule anything. Binding a pending or running token panics.
func (r *Runnable) Bind(fn func()) {
	switch r.state.Load() {
	case runnablePending, runnableRunning:
		panic("execctx: Bind on an in-flight Runnable")
	}
	r.fn = fn
}

// Finished reports whether the callback has run to completion, or the
// token was canceled before running.
func (r *Runnable) Finished() bool {
	switch r.state.Load() {
	case runnableFinished, runnableCanceling, runnableCanceled:
		return true
	}
	return false
}

// Canceled reports whether the token was canceled before its callback ran.
func (r *Runnable) Canceled() bool {
	switch r.state.Load() {
	case runnableCanceling, runnableCanceled:
		return true
	}
	return false
}

// Cancel prevents invocation of the callback if the token has not yet
// started executing, transitioning it to finished with a canceled result.
// If the token is already running, already finished, or was never posted,
// Cancel is a no-op.
//
// Cancel is only valid from the context the token was posted to; calling
// it from anywhere else panics. This restriction is what avoids racing
// with an in-progress callback.
//
// A canceled token stays linked in the context's pending list until the
// context next drains; posting it again before then panics.
func (r *Runnable) Cancel() {
	if r.state.Load() != runnablePending {
		return
	}
	if owner := r.owner; owner != nil {
		owner.AssertContext()
	}
	// The dispatch path CASes pending->running before invoking the
	// callback, so exactly one of Cancel and dispatch wins.
	r.state.CompareAndSwap(runnablePending, runnableCanceling)
}

// post claims the token for the given context. Called by backends from
// their Post implementations.
//
// Double-posting indicates a caller bug, so it is rejected with a panic
// rather than re-queued.
func (r *Runnable) post(owner ExecutionContext) {
	if r.fn == nil {
		panic("execctx: Post of an unbound Runnable")
	}
	for {
		switch s := r.state.Load(); s {
		case runnableIdle, runnableFinished, runnableCanceled:
			// The owner is published before the state so that a Cancel
			// observing pending always sees it. A lost CAS race panics
			// below, so the speculative write never survives one.
			r.owner = owner
			if r.state.CompareAndSwap(s, runnablePending) {
				return
			}
		case runnablePending:
			panic("execctx: Runnable posted while already pending")
		case runnableRunning:
			panic("execctx: Runnable posted while running")
		case runnableCanceling:
			panic("execctx: canceled Runnable posted before its context drained it")
		}
	}
}

// execute invokes the callback on behalf of the owning context, which must
// be locked by the caller. Canceled tokens are skipped. Panics from the
// callback are recovered so one defective token cannot take down the
// context's dispatch loop.
func (r *Runnable) execute(logger *logiface.Logger[logiface.Event]) {
	if !r.state.CompareAndSwap(runnablePending, runnableRunning) {
		// Canceled while queued. The caller severed the intrusive link
		// before invoking execute, so the token becomes repostable here.
		r.state.CompareAndSwap(runnableCanceling, runnableCanceled)
		return
	}
	defer func() {
		r.state.Store(runnableFinished)
		if v := recover(); v != nil {
			if b := logger.Err(); b.Enabled() {
				b.Any("panic", v).Log("execctx: posted runnable panicked")
			} else {
				log.Printf("ERROR: execctx: posted runnable panicked: %v", v)
			}
		}
	}()
	r.fn()
}
