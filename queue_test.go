package execctx

import (
	"errors"
	"testing"
)

// TestQueue_FIFOCompletion covers the core ordering guarantee: for
// operations started in order O1, O2, O3, a later operation never enters
// Running before every earlier one reaches Done.
func TestQueue_FIFOCompletion(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	var completed []int

	steps1 := 0
	op1 := NewOperation(func() (bool, error) {
		steps1++
		if steps1 < 2 {
			return false, nil
		}
		completed = append(completed, 1)
		return true, nil
	})
	op2 := NewOperation(func() (bool, error) {
		completed = append(completed, 2)
		return true, nil
	})
	op3 := NewOperation(func() (bool, error) {
		completed = append(completed, 3)
		return true, nil
	})

	op1.Start(q)
	op2.Start(q)
	op3.Start(q)

	if got := op1.State(); got != OpRunning {
		t.Fatalf("op1 state = %v, want Running", got)
	}
	if got := op2.State(); got != OpReady {
		t.Fatalf("op2 state = %v, want Ready", got)
	}
	if got := op3.State(); got != OpReady {
		t.Fatalf("op3 state = %v, want Ready", got)
	}

	q.Signal() // op1 steps, not done
	if op1.State() != OpRunning || op2.State() != OpReady {
		t.Fatalf("after signal 1: op1=%v op2=%v", op1.State(), op2.State())
	}

	q.Signal() // op1 done; op2 becomes Running but is not stepped
	if op1.State() != OpDone {
		t.Fatalf("op1 state = %v, want Done", op1.State())
	}
	if op2.State() != OpRunning {
		t.Fatalf("op2 state = %v, want Running", op2.State())
	}
	if op3.State() != OpReady {
		t.Fatalf("op3 state = %v, want Ready", op3.State())
	}

	q.Signal() // op2 done
	q.Signal() // op3 done

	for i, want := range []int{1, 2, 3} {
		if completed[i] != want {
			t.Fatalf("completion order %v, want [1 2 3]", completed)
		}
	}
}

// TestQueue_ChunkedWrite covers the bounded-transfer scenario: a write of
// N bytes where each signal permits up to K<N bytes reaches Done after
// exactly ceil(N/K) signals, having transferred exactly N bytes in order.
func TestQueue_ChunkedWrite(t *testing.T) {
	const k = 3 // 10 bytes, ceil(10/3) = 4 signals

	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	var out []byte
	src := []byte("0123456789")

	op := NewOperation(func() (bool, error) {
		chunk := k
		if rem := len(src) - len(out); chunk > rem {
			chunk = rem
		}
		out = append(out, src[len(out):len(out)+chunk]...)
		return len(out) == len(src), nil
	})
	op.Start(q)

	for i := 0; i < 3; i++ {
		q.Signal()
		if op.State() == OpDone {
			t.Fatalf("operation done after %d signals, want 4", i+1)
		}
	}
	q.Signal()

	if op.State() != OpDone {
		t.Fatal("operation not done after 4 signals")
	}
	if err := op.Await(); err != nil {
		t.Fatalf("Await returned %v, want nil", err)
	}
	if string(out) != string(src) {
		t.Fatalf("transferred %q, want %q", out, src)
	}
}

// TestQueue_ExitConditionFails covers an operation whose exit condition
// becomes false mid-flight: it completes with a non-nil outcome on the
// very next signal, without transferring further bytes.
func TestQueue_ExitConditionFails(t *testing.T) {
	errPeerGone := errors.New("peer disconnected")

	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	connected := true
	transferred := 0

	op := NewOperation(func() (bool, error) {
		if !connected {
			return true, errPeerGone
		}
		transferred++
		return false, nil
	})
	op.Start(q)

	q.Signal()
	q.Signal()
	if transferred != 2 || op.State() == OpDone {
		t.Fatalf("mid-flight: transferred=%d state=%v", transferred, op.State())
	}

	connected = false
	q.Signal()

	if op.State() != OpDone {
		t.Fatal("operation not done after the condition changed")
	}
	if err := op.Await(); !errors.Is(err, errPeerGone) {
		t.Fatalf("Await returned %v, want %v", err, errPeerGone)
	}
	if transferred != 2 {
		t.Fatalf("transferred %d bytes after disconnect, want 2", transferred)
	}
}

// TestQueue_SignalEmpty covers that signaling a queue with no pending
// operations is a safe no-op.
func TestQueue_SignalEmpty(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	q.Signal()
	q.Signal()

	// The queue still works afterwards.
	op := NewOperation(func() (bool, error) { return true, nil })
	op.Start(q)
	q.Signal()
	if err := op.Await(); err != nil {
		t.Fatalf("Await returned %v", err)
	}
}

// TestQueue_SignalDeferredWhileLocked covers the try-lock teardown
// protocol: with the context held (e.g. by a deinit path), Signal returns
// immediately without stepping; signals counted while held are retired
// once the context is released and the signal path runs again.
func TestQueue_SignalDeferredWhileLocked(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	steps := 0
	op := NewOperation(func() (bool, error) {
		steps++
		return steps == 2, nil
	})
	op.Start(q)

	ctx.Lock()
	q.Signal() // deferred: context held
	if steps != 0 {
		t.Fatalf("step ran while the context was held (steps=%d)", steps)
	}
	ctx.Unlock()

	q.Signal() // retires both the deferred signal and this one
	if steps != 2 {
		t.Fatalf("steps = %d, want 2", steps)
	}
	if op.State() != OpDone {
		t.Fatalf("op state = %v, want Done", op.State())
	}
}

// TestQueue_Flush covers deterministic retirement of deferred signals.
func TestQueue_Flush(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	steps := 0
	op := NewOperation(func() (bool, error) {
		steps++
		return true, nil
	})
	op.Start(q)

	ctx.Lock()
	q.Signal()
	ctx.Unlock()

	q.Flush()
	if steps != 1 || op.State() != OpDone {
		t.Fatalf("after Flush: steps=%d state=%v", steps, op.State())
	}
}

// TestQueue_StartRetiresDeferredSignals covers that entering the context
// through Start also retries pending work.
func TestQueue_StartRetiresDeferredSignals(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	steps := 0
	op1 := NewOperation(func() (bool, error) {
		steps++
		return true, nil
	})
	op1.Start(q)

	ctx.Lock()
	q.Signal()
	ctx.Unlock()

	op2 := NewOperation(func() (bool, error) { return true, nil })
	op2.Start(q) // drains the deferred signal; op1 completes

	if op1.State() != OpDone {
		t.Fatalf("op1 state = %v, want Done", op1.State())
	}
	if op2.State() != OpRunning {
		t.Fatalf("op2 state = %v, want Running", op2.State())
	}
}

func TestQueue_Len(t *testing.T) {
	ctx := newTestContext(OrderThreadMin)
	q := NewOperationQueue(ctx)

	ctx.Lock()
	if got := q.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
	ctx.Unlock()

	op := NewOperation(func() (bool, error) { return true, nil })
	op.Start(q)

	ctx.Lock()
	if got := q.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	ctx.Unlock()

	mustPanic(t, "Len without context", func() { _ = q.Len() })
}
