package execctx

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// Worker is an execution context backed by a dedicated goroutine that
// drains posted tokens in FIFO order. It is the minimal public
// thread-serialized context; its default order is [OrderThreadMin], and
// composed applications may raise it via [WithOrder].
//
// A worker must be started with [Worker.Run] (typically `go w.Run(ctx)`)
// before posted tokens execute, and stopped with [Worker.Shutdown], which
// drains remaining tokens so no deferred work is silently dropped.
//
// Posting is allocation-free: tokens are linked through their own
// intrusive node and the sleeping loop is woken through an eventfd
// (self-pipe on Darwin), so Post is safe from producers modelling
// interrupt context.
type Worker struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	name   string
	order  Order
	logger *logiface.Logger[logiface.Event]

	// State machine (cache-line padded internally)
	state workerStateMachine

	// mu is the context lock. The dispatch loop holds it while executing
	// tokens; Lock/TryLock enter the context synchronously.
	mu   sync.Mutex
	hold holder

	// inbox is the lock-free ingress: a LIFO of pending tokens reversed at
	// drain time, which restores FIFO arrival order.
	inbox atomic.Pointer[Runnable]

	// Wake-up mechanism
	wakeFd      int
	wakeWriteFd int
	wakePending atomic.Uint32

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	stopOnce sync.Once

	// loopDone is closed when the dispatch loop exits.
	loopDone chan struct{}
}

var _ ExecutionContext = (*Worker)(nil)

// NewWorker creates a worker context. It does not start the dispatch
// loop; see [Worker.Run].
func NewWorker(opts ...WorkerOption) (*Worker, error) {
	cfg, err := resolveWorkerOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	return &Worker{
		name:        cfg.name,
		order:       cfg.order,
		logger:      cfg.logger,
		wakeFd:      wakeFd,
		wakeWriteFd: wakeWriteFd,
		loopDone:    make(chan struct{}),
	}, nil
}

// Order returns the worker's immutable order.
func (w *Worker) Order() Order { return w.order }

// Lock enters the context synchronously, blocking until the dispatch loop
// is between tokens and no other goroutine holds the context.
func (w *Worker) Lock() {
	w.mu.Lock()
	w.hold.acquired()
}

// Unlock exits the context.
func (w *Worker) Unlock() {
	w.hold.released()
	w.mu.Unlock()
}

// TryLock attempts to enter the context without blocking.
func (w *Worker) TryLock() bool {
	if !w.mu.TryLock() {
		return false
	}
	w.hold.acquired()
	return true
}

// AssertContext panics unless the calling goroutine holds this context.
func (w *Worker) AssertContext() { w.hold.assert() }

// AssertCallable panics unless this worker may synchronously call into
// other, per the order discipline.
func (w *Worker) AssertCallable(other ExecutionContext) { assertCallable(w, other) }

// State returns the current loop state.
func (w *Worker) State() WorkerState { return w.state.load() }

// Post schedules r's callback to run on the worker goroutine with the
// context locked. It never blocks and never allocates.
//
// State policy during shutdown: tokens are accepted while the worker is
// Terminating (the loop drains in-flight work before exiting) and
// rejected with ErrWorkerTerminated once it is fully stopped.
func (w *Worker) Post(r *Runnable) error {
	if w.state.load() == WorkerTerminated {
		return ErrWorkerTerminated
	}

	r.post(w)

	// Lock-free push (the linearization point).
	for {
		head := w.inbox.Load()
		r.next = head
		if w.inbox.CompareAndSwap(head, r) {
			break
		}
	}

	// Wake if sleeping, deduplicated so a burst of posts writes the fd
	// once. Write errors during shutdown (EBADF, EPIPE) are not fatal:
	// the token is already queued and the drain loop will catch it.
	if w.state.load() == WorkerSleeping {
		if w.wakePending.CompareAndSwap(0, 1) {
			if err := w.wake(); err != nil {
				w.wakePending.Store(0)
			}
		}
	}

	return nil
}

// Run runs the dispatch loop and blocks until fully stopped (via
// Shutdown or ctx cancellation). To run in a separate goroutine, use
// `go w.Run(ctx)`.
func (w *Worker) Run(ctx context.Context) error {
	if w.isLoopGoroutine() {
		return ErrReentrantRun
	}

	if !w.state.tryTransition(WorkerIdle, WorkerRunning) {
		if w.state.load() == WorkerTerminated {
			return ErrWorkerTerminated
		}
		return ErrWorkerAlreadyRunning
	}

	defer close(w.loopDone)

	w.loopGoroutineID.Store(getGoroutineID())
	defer w.loopGoroutineID.Store(0)

	if b := w.logger.Debug(); b.Enabled() {
		b.Str("worker", w.name).Log("execctx: worker running")
	}

	// Watcher goroutine wakes the loop when ctx is cancelled, since the
	// loop may be blocked reading the wake fd.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = w.wake()
		case <-watcherDone:
		}
	}()
	defer close(watcherDone)

	for {
		select {
		case <-ctx.Done():
			for {
				current := w.state.load()
				if current == WorkerTerminating || current == WorkerTerminated {
					break
				}
				if w.state.tryTransition(current, WorkerTerminating) {
					break
				}
			}
			w.shutdownDrain()
			return ctx.Err()
		default:
		}

		if s := w.state.load(); s == WorkerTerminating || s == WorkerTerminated {
			w.shutdownDrain()
			return nil
		}

		if w.dispatch() {
			continue
		}

		// Nothing queued: optimistic transition to Sleeping, re-check for
		// tokens that raced the transition, then block on the wake fd.
		if !w.state.tryTransition(WorkerRunning, WorkerSleeping) {
			continue
		}
		if w.inbox.Load() != nil {
			w.state.tryTransition(WorkerSleeping, WorkerRunning)
			continue
		}
		if err := w.sleep(); err != nil {
			log.Printf("CRITICAL: execctx: worker wake fd read failed: %v - terminating", err)
			w.state.tryTransition(WorkerSleeping, WorkerTerminating)
			continue
		}
		w.wakePending.Store(0)
		w.state.tryTransition(WorkerSleeping, WorkerRunning)
	}
}

// Shutdown gracefully shuts down the worker, draining queued tokens. It
// blocks until termination completes or ctx expires. Subsequent calls
// return ErrWorkerTerminated.
func (w *Worker) Shutdown(ctx context.Context) error {
	var result error
	repeat := true
	w.stopOnce.Do(func() {
		repeat = false
		result = w.shutdownImpl(ctx)
	})
	if repeat {
		return ErrWorkerTerminated
	}
	return result
}

func (w *Worker) shutdownImpl(ctx context.Context) error {
	for {
		current := w.state.load()
		if current == WorkerTerminated || current == WorkerTerminating {
			return ErrWorkerTerminated
		}

		if w.state.tryTransition(current, WorkerTerminating) {
			if current == WorkerIdle {
				// Loop never started; drain on the caller. shutdownDrain
				// stores Terminated before draining, closing the window in
				// which Post still accepts tokens that no drain would see.
				w.shutdownDrain()
				return nil
			}
			if current == WorkerSleeping {
				_ = w.wake()
			}
			break
		}
	}

	select {
	case <-w.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch drains and executes one batch of posted tokens, reporting
// whether any were taken.
func (w *Worker) dispatch() bool {
	batch := w.inbox.Swap(nil)
	if batch == nil {
		return false
	}

	// Reverse the LIFO batch to restore FIFO arrival order.
	var head *Runnable
	for batch != nil {
		next := batch.next
		batch.next = head
		head = batch
		batch = next
	}

	w.mu.Lock()
	w.hold.acquired()
	for head != nil {
		next := head.next
		head.next = nil
		head.execute(w.logger)
		head = next
	}
	w.hold.released()
	w.mu.Unlock()
	return true
}

// shutdownDrain completes termination: it marks the worker Terminated
// first so new posts are rejected, then drains until the inbox stays
// empty across consecutive checks, catching posts that raced the state
// change.
func (w *Worker) shutdownDrain() {
	w.state.store(WorkerTerminated)

	const requiredEmptyChecks = 3
	for emptyChecks := 0; emptyChecks < requiredEmptyChecks; {
		if w.dispatch() {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	w.closeFDs()

	if b := w.logger.Debug(); b.Enabled() {
		b.Str("worker", w.name).Log("execctx: worker terminated")
	}
}

// wake writes the wake fd to unblock a sleeping loop.
func (w *Worker) wake() error {
	if w.state.load() == WorkerTerminated {
		return ErrWorkerTerminated
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(w.wakeWriteFd, buf)
	return err
}

// sleep blocks reading the wake fd until a producer or Shutdown writes it.
func (w *Worker) sleep() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.wakeFd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (w *Worker) closeFDs() {
	_ = unix.Close(w.wakeFd)
	if w.wakeWriteFd != w.wakeFd {
		_ = unix.Close(w.wakeWriteFd)
	}
}

// isLoopGoroutine checks if the caller is the dispatch loop goroutine.
func (w *Worker) isLoopGoroutine() bool {
	id := w.loopGoroutineID.Load()
	return id != 0 && id == getGoroutineID()
}
