package execctx

import (
	"sync"
	"testing"
	"time"
)

// mustPanic asserts that fn panics.
func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic, got none", name)
		}
	}()
	fn()
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// testContext is a minimal mutex-backed execution context, the test/mock
// member of the backend set. Post runs the token synchronously under the
// lock, which is enough for the deterministic queue tests.
type testContext struct {
	mu    sync.Mutex
	hold  holder
	order Order
}

func newTestContext(order Order) *testContext {
	return &testContext{order: order}
}

var _ ExecutionContext = (*testContext)(nil)

func (c *testContext) Order() Order { return c.order }

func (c *testContext) Lock() {
	c.mu.Lock()
	c.hold.acquired()
}

func (c *testContext) Unlock() {
	c.hold.released()
	c.mu.Unlock()
}

func (c *testContext) TryLock() bool {
	if !c.mu.TryLock() {
		return false
	}
	c.hold.acquired()
	return true
}

func (c *testContext) AssertContext() { c.hold.assert() }

func (c *testContext) AssertCallable(other ExecutionContext) { assertCallable(c, other) }

func (c *testContext) Post(r *Runnable) error {
	r.post(c)
	c.Lock()
	r.execute(nil)
	c.Unlock()
	return nil
}
