package execctx

import (
	"sync/atomic"

	"github.com/notorious-go/sync/semaphore"
)

// OpState represents the lifecycle state of an [Operation].
//
// Transitions are strictly monotonic:
//
//	OpCreated --Start--> OpReady --(head of queue)--> OpRunning --step done--> OpDone
type OpState uint32

const (
	// OpCreated indicates the operation is constructed but has not joined
	// a queue.
	OpCreated OpState = iota
	// OpReady indicates the operation is queued behind earlier operations
	// and not yet eligible to execute.
	OpReady
	// OpRunning indicates the operation is at the head of its queue; each
	// signal invokes its step function once.
	OpRunning
	// OpDone indicates the operation completed, was removed from the
	// queue, and its outcome is readable.
	OpDone
)

// String returns a human-readable representation of the state.
func (s OpState) String() string {
	switch s {
	case OpCreated:
		return "Created"
	case OpReady:
		return "Ready"
	case OpRunning:
		return "Running"
	case OpDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// StepFunc advances an operation by one non-blocking step. It is invoked
// once per signal while the operation is at the head of its queue, with
// the queue's context locked. Returning done=false means more signals are
// needed; returning done=true completes the operation with err as its
// operational outcome (nil for success). The core never interprets err.
//
// A step function that never returns done stalls its queue indefinitely;
// that is a property of the caller-supplied algorithm, not something the
// queue times out.
type StepFunc func() (done bool, err error)

// Operation is a four-state machine representing one logical asynchronous
// request. Callers construct it, start it on a queue, and block on Await
// until it completes. An operation observes exactly one queue in its
// lifetime and must not be reused.
//
// The operation must stay reachable until it reaches OpDone: the queue
// holds a reference to it for the whole Ready/Running span.
type Operation struct {
	_ [0]func() // prevent copying

	step  StepFunc
	queue *OperationQueue

	// next is the intrusive queue link, guarded by the queue's context.
	next *Operation

	state atomic.Uint32

	// err is the operational outcome. Written before the OpDone store,
	// read only after observing OpDone; the atomic state accesses order
	// the two.
	err error

	// done blocks waiters until completion. Constructed full; completion
	// releases it.
	done semaphore.Semaphore
}

// NewOperation constructs an operation that will be advanced by step.
func NewOperation(step StepFunc) *Operation {
	if step == nil {
		panic("execctx: NewOperation with nil step")
	}
	op := &Operation{
		step: step,
		done: semaphore.New(1),
	}
	// Hold the only slot until completion, so Await blocks.
	op.done.Acquire()
	return op
}

// State returns the operation's current state.
func (op *Operation) State() OpState {
	return OpState(op.state.Load())
}

// Err returns the operational outcome. It is meaningful only once the
// operation has reached [OpDone]; see [Operation.Await].
func (op *Operation) Err() error {
	return op.err
}

// Queue returns the queue the operation joined, or nil before Start.
func (op *Operation) Queue() *OperationQueue {
	return op.queue
}

// Start appends the operation to the tail of q, transitioning it from
// Created to Ready (and to Running immediately, if it is the only queued
// operation). Starting an operation twice, or one constructed without
// NewOperation, panics.
//
// Start enters q's context; the caller must not already hold it.
func (op *Operation) Start(q *OperationQueue) {
	if q == nil {
		panic("execctx: Start with nil queue")
	}
	if op.done == nil {
		panic("execctx: Start on an operation not constructed with NewOperation")
	}

	q.ctx.Lock()
	defer q.ctx.Unlock()

	if !op.state.CompareAndSwap(uint32(OpCreated), uint32(OpReady)) {
		panic("execctx: Start on an operation that already joined a queue")
	}
	op.queue = q
	q.appendLocked(op)

	// Retire any signals deferred while the context was contended.
	q.drainSignalsLocked()
}

// Await blocks the calling goroutine until the operation reaches OpDone,
// then returns the operational outcome.
//
// Await must be called from a context that does not conflict with the one
// driving the queue's signals; blocking the signal-driving context on its
// own queue deadlocks the caller. That is a caller obligation the
// primitive cannot check.
func (op *Operation) Await() error {
	if op.State() != OpDone {
		// Acquire blocks until complete releases the slot; re-releasing
		// lets any further waiters through.
		op.done.Acquire()
		op.done.Release()
	}
	return op.err
}

// complete records the outcome and releases waiters. Called by the queue
// with its context locked, exactly once.
func (op *Operation) complete(err error) {
	op.err = err
	op.state.Store(uint32(OpDone))
	op.done.Release()
}
