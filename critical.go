package execctx

import (
	"sync"
	"sync/atomic"
)

// Critical is the process-wide critical-section execution context, order
// 0. It models a non-preemptible critical section: entering it excludes
// every other participant, holders are expected to be brief, and nothing
// ranks below it, so it may never synchronously call into another context.
//
// Post never blocks: when the section is free the token runs inline under
// the lock, and when it is held the token is parked on a lock-free pending
// list that the current holder drains before releasing, in the style of
// deferred interrupt handling.
//
// Use [CriticalSection] to obtain the instance; the type is exported only
// for use in signatures.
type Critical struct {
	_ [0]func() // prevent copying

	mu   sync.Mutex
	hold holder

	// pending holds tokens posted while the section was occupied, LIFO,
	// reversed at drain time.
	pending atomic.Pointer[Runnable]
}

var (
	criticalOnce    sync.Once
	criticalSection *Critical
)

// CriticalSection returns the process-wide critical-section context. It is
// initialized on first use and torn down never; every component may rely
// on it being available for the process lifetime.
func CriticalSection() *Critical {
	criticalOnce.Do(func() {
		criticalSection = &Critical{}
	})
	return criticalSection
}

var _ ExecutionContext = (*Critical)(nil)

// Order returns [OrderCritical].
func (c *Critical) Order() Order { return OrderCritical }

// Lock enters the critical section.
func (c *Critical) Lock() {
	c.mu.Lock()
	c.hold.acquired()
}

// Unlock drains any tokens deferred while the section was held, then
// exits the section.
func (c *Critical) Unlock() {
	c.drainLocked()
	c.hold.released()
	c.mu.Unlock()
	// A token may have been posted between the drain and the release.
	c.retryPending()
}

// TryLock attempts to enter the critical section without blocking.
func (c *Critical) TryLock() bool {
	if !c.mu.TryLock() {
		return false
	}
	c.hold.acquired()
	return true
}

// AssertContext panics unless the calling goroutine holds the section.
func (c *Critical) AssertContext() { c.hold.assert() }

// AssertCallable always panics: nothing ranks below the critical section.
func (c *Critical) AssertCallable(other ExecutionContext) { assertCallable(c, other) }

// Post schedules r to run inside the critical section. If the section is
// free it runs inline before Post returns; otherwise the current holder
// runs it on Unlock. Post itself never blocks. It always returns nil; the
// critical section cannot be torn down.
func (c *Critical) Post(r *Runnable) error {
	r.post(c)
	for {
		head := c.pending.Load()
		r.next = head
		if c.pending.CompareAndSwap(head, r) {
			break
		}
	}
	c.retryPending()
	return nil
}

// retryPending runs deferred tokens if the section can be entered without
// blocking. When it cannot, the current holder is responsible for the
// pending list, so returning is safe.
func (c *Critical) retryPending() {
	for c.pending.Load() != nil {
		if !c.mu.TryLock() {
			return
		}
		c.hold.acquired()
		c.drainLocked()
		c.hold.released()
		c.mu.Unlock()
	}
}

// drainLocked runs all pending tokens. Caller must hold the section.
func (c *Critical) drainLocked() {
	for {
		batch := c.pending.Swap(nil)
		if batch == nil {
			return
		}
		// Reverse to FIFO arrival order.
		var head *Runnable
		for batch != nil {
			next := batch.next
			batch.next = head
			head = batch
			batch = next
		}
		for head != nil {
			next := head.next
			head.next = nil
			head.execute(nil)
			head = next
		}
	}
}
