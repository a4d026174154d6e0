package prim

import (
	"sync"

	"github.com/fibersched/fibersched/op"
)

// WaitGroup tracks an i64 counter and a generation-scoped Cond: cond is
// non-nil iff counter > 0 and owns the wake-up for the current generation.
// Decrementing to zero signals the current cond and drops it; incrementing
// from zero allocates a fresh one (§3).
type WaitGroup struct {
	mu      sync.Mutex
	counter int64
	cond    *Cond
}

// NewWaitGroup returns a WaitGroup with counter zero.
func NewWaitGroup() *WaitGroup { return &WaitGroup{} }

// Add adjusts the counter by delta. Panics if the counter would go
// negative, mirroring the invariant "counter >= 0 at all times."
func (w *WaitGroup) Add(delta int64) {
	w.mu.Lock()
	prev := w.counter
	w.counter += delta
	if w.counter < 0 {
		w.mu.Unlock()
		panic("prim: WaitGroup counter went negative")
	}
	var toSignal *Cond
	switch {
	case prev > 0 && w.counter == 0:
		toSignal = w.cond
		w.cond = nil
	case prev == 0 && w.counter > 0:
		w.cond = NewCond()
	}
	w.mu.Unlock()
	if toSignal != nil {
		toSignal.Signal()
	}
}

// Done decrements the counter by one.
func (w *WaitGroup) Done() { w.Add(-1) }

// Count returns the current counter value.
func (w *WaitGroup) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counter
}

// WaitOp is a guard that, at sync time, returns Always() if the counter is
// zero or the current generation's cond.WaitOp() otherwise.
func (w *WaitGroup) WaitOp() op.Op {
	return op.Guard(func() op.Op {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.counter == 0 {
			return op.Always()
		}
		return w.cond.WaitOp()
	})
}
