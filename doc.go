// Package execctx provides composable primitives for building asynchronous
// drivers and services: execution contexts with a lock-ordering deadlock
// prevention rule, reusable zero-allocation deferred-work tokens, and an
// async-operation lifecycle that bridges a sequence of non-blocking steps
// into a single blocking call.
//
// # Execution Contexts
//
// An [ExecutionContext] is a scheduling capability. It can be entered
// synchronously ([ExecutionContext.Lock] / [ExecutionContext.Unlock]) or
// have work posted to it asynchronously ([ExecutionContext.Post]). Every
// context carries an immutable [Order]; a context may synchronously enter
// another only if its own order is strictly greater, which yields a
// topological ordering over contexts and structurally forbids lock cycles.
// Violations are programmer errors and panic via
// [ExecutionContext.AssertCallable] / [ExecutionContext.AssertContext].
//
// Two backends are provided: [CriticalSection] returns the process-wide
// non-preemptible critical-section context (order 0), and [Worker] is a
// dedicated-goroutine context that drains posted tokens in FIFO order.
// Additional backends only need to satisfy the interface; tests commonly
// supply a mutex-backed stub.
//
// # Deferred Work
//
// A [Runnable] is a reusable handle for one future invocation of a bound
// callback. Posting never allocates and never blocks, making it safe to
// call from producer code that models interrupt context. A pending token
// may be canceled from the context it was posted to; a finished token may
// be posted again, and a canceled one becomes repostable once the context
// that held it has drained.
//
// # Operations
//
// An [Operation] is a four-state machine (Created, Ready, Running, Done)
// advanced by repeated invocation of its [StepFunc], one step per
// [OperationQueue.Signal], strictly in FIFO order relative to
// [Operation.Start] calls on the same queue. [Operation.Await] blocks the
// caller until the operation reaches Done and returns the operational
// outcome. Signal is non-blocking: it try-locks the queue's context and
// silently defers when the context is contended, which is also the
// try-lock teardown protocol; [InitGuard] and [AbortGate] cover the other
// two teardown patterns.
//
// # Platform Support
//
// The worker backend sleeps on an eventfd on Linux and a self-pipe on
// macOS.
package execctx
