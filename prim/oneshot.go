// Package prim implements the primitive synchronisers built atop the op
// algebra: Oneshot, Cond, WaitGroup, Channel, Mailbox, plus a Clock for
// timer-backed ops and a WaitSet helper for future fd-poller backends
// (§4.E).
package prim

import "github.com/fibersched/fibersched/op"

// Oneshot is a latch with a waiter list: add_waiter returns a cancellation
// handle, signal fires all still-live waiters once then the
// on-after-signal hook (§3, §4.E).
type Oneshot struct {
	latch *op.Latch
}

// NewOneshot returns an untriggered Oneshot.
func NewOneshot() *Oneshot { return &Oneshot{latch: op.NewLatch()} }

// Triggered reports whether Signal has already run.
func (o *Oneshot) Triggered() bool { return o.latch.Triggered() }

// AddWaiter registers fn to run once the Oneshot fires (immediately if it
// already has). The returned unlink nulls the slot if dropped before
// firing.
func (o *Oneshot) AddWaiter(fn func()) (unlink func()) { return o.latch.AddWaiter(fn) }

// SetAfterSignal installs a hook invoked once, after every waiter has run.
func (o *Oneshot) SetAfterSignal(fn func()) { o.latch.SetAfterSignal(fn) }

// Signal fires the Oneshot. Idempotent.
func (o *Oneshot) Signal() { o.latch.Signal() }

// WaitOp is a prim whose try returns Triggered and whose block adds a
// waiter that completes the suspension.
func (o *Oneshot) WaitOp() op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) { return o.latch.Triggered(), nil },
		func(s *op.Suspension, wrap op.WrapFn) {
			o.latch.AddWaiter(func() { s.Complete(wrap, nil) })
		},
	)
}
