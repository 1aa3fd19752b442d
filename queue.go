package execctx

import (
	"sync/atomic"
)

// OperationQueue is a FIFO sequence of pending operations belonging to one
// logical resource, signaled by producers (including interrupt-style
// handlers) and drained under the resource's execution context.
//
// Operations on the same queue complete their Running phase in strict FIFO
// order relative to their Start calls: a later operation never enters
// Running before every earlier one has reached Done. This is what allows,
// for example, concurrent writers to a shared resource to never interleave
// their output.
type OperationQueue struct {
	_ [0]func() // prevent copying

	ctx ExecutionContext

	// signals counts Signal calls not yet retired by a drain.
	signals atomic.Int64

	// head/tail are guarded by ctx.
	head *Operation
	tail *Operation
}

// NewOperationQueue creates a queue bound to the resource's execution
// context. The binding is for the queue's lifetime.
func NewOperationQueue(ctx ExecutionContext) *OperationQueue {
	if ctx == nil {
		panic("execctx: NewOperationQueue with nil context")
	}
	return &OperationQueue{ctx: ctx}
}

// Context returns the execution context the queue is bound to.
func (q *OperationQueue) Context() ExecutionContext { return q.ctx }

// Signal notifies the queue that the operation at its head may be able to
// make progress, stepping it exactly once per call. Safe to call with no
// pending operations (a no-op), and safe from any goroutine: Signal never
// blocks. It counts the signal, then try-locks the bound context; on
// contention it returns immediately and the counted signal is retired by
// the next successful Signal, Start, or Flush. A deinit path that holds
// the context therefore silently defers concurrent signals; this is the
// try-lock teardown protocol. Callers of the signal path must themselves be
// serialized externally (e.g. run on a single producer).
//
// A signal steps only the operation currently at the head; completing an
// operation promotes the next one to Running but does not step it. That
// keeps each call O(1) and bounded for interrupt-style producers.
func (q *OperationQueue) Signal() {
	q.signals.Add(1)
	if !q.ctx.TryLock() {
		return
	}
	q.drainSignalsLocked()
	q.ctx.Unlock()
}

// Flush enters the context (blocking) and retires any deferred signals.
// Resource code calls this after locked sections that may have caused
// Signal to defer.
func (q *OperationQueue) Flush() {
	q.ctx.Lock()
	q.drainSignalsLocked()
	q.ctx.Unlock()
}

// Len returns the number of queued operations. The caller must hold the
// queue's context.
func (q *OperationQueue) Len() int {
	q.ctx.AssertContext()
	n := 0
	for op := q.head; op != nil; op = op.next {
		n++
	}
	return n
}

// drainSignalsLocked retires counted signals, one head-step per signal,
// looping so signals that arrive while stepping are not lost. Caller must
// hold the context.
func (q *OperationQueue) drainSignalsLocked() {
	for {
		n := q.signals.Load()
		if n == 0 {
			return
		}
		for i := int64(0); i < n; i++ {
			q.stepLocked()
		}
		q.signals.Add(-n)
	}
}

// stepLocked advances the head operation by one step, completing and
// popping it when the step reports done. Caller must hold the context.
func (q *OperationQueue) stepLocked() {
	op := q.head
	if op == nil {
		return
	}

	done, err := op.step()
	if !done {
		return
	}

	q.head = op.next
	if q.head == nil {
		q.tail = nil
	} else {
		// The next operation becomes Running now, but is not stepped
		// until the next signal.
		q.head.state.Store(uint32(OpRunning))
	}
	op.next = nil

	op.complete(err)
}

// appendLocked links op at the tail. Caller must hold the context; op must
// already be Ready.
func (q *OperationQueue) appendLocked(op *Operation) {
	if q.tail == nil {
		q.head = op
		q.tail = op
		op.state.Store(uint32(OpRunning))
	} else {
		q.tail.next = op
		q.tail = op
	}
}
