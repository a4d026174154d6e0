package op

import "sync"

// Latch is the one-shot idempotent condition with a waiter list that backs
// both NackCond (used internally by compile for with_nack/abort) and
// prim.Oneshot (§4.E, §9 design notes: "NackCond and Oneshot are the same
// primitive"). Waiters added after the latch has already fired run
// immediately, from AddWaiter itself.
type Latch struct {
	mu        sync.Mutex
	triggered bool
	waiters   []func()
	afterFn   func()
}

// NewLatch returns an untriggered Latch.
func NewLatch() *Latch { return &Latch{} }

// Triggered reports whether Signal has already run.
func (l *Latch) Triggered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.triggered
}

// AddWaiter registers fn to run once the latch fires (immediately, if it
// already has). The returned unlink detaches fn if it has not yet run; it
// is a no-op once fn has fired or already been unlinked.
func (l *Latch) AddWaiter(fn func()) (unlink func()) {
	l.mu.Lock()
	if l.triggered {
		l.mu.Unlock()
		fn()
		return func() {}
	}
	idx := len(l.waiters)
	l.waiters = append(l.waiters, fn)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		if idx < len(l.waiters) {
			l.waiters[idx] = nil
		}
		l.mu.Unlock()
	}
}

// SetAfterSignal installs a hook run once, after all waiters have fired.
// Used by prim.Oneshot's on_after_signal (§3).
func (l *Latch) SetAfterSignal(fn func()) {
	l.mu.Lock()
	l.afterFn = fn
	l.mu.Unlock()
}

// Signal fires all still-live waiters once, in insertion order, then the
// after-signal hook. Idempotent: later calls have no effect.
func (l *Latch) Signal() {
	l.mu.Lock()
	if l.triggered {
		l.mu.Unlock()
		return
	}
	l.triggered = true
	waiters := l.waiters
	l.waiters = nil
	after := l.afterFn
	l.mu.Unlock()

	for _, w := range waiters {
		if w != nil {
			w()
		}
	}
	if after != nil {
		after()
	}
}

// NackCond is a one-shot condition with an optional abort hook, recorded on
// the path from root to every leaf on the path from its WithNack/OnAbort
// node downward (§3). Idempotent: signal has effect only the first time.
type NackCond struct {
	latch     *Latch
	abortFn   func()
	abortOnce sync.Once
}

func newNackCond(abortFn func()) *NackCond {
	return &NackCond{latch: NewLatch(), abortFn: abortFn}
}

// signal fires the underlying latch and, for abort conds, runs the attached
// hook exactly once.
func (n *NackCond) signal() {
	n.latch.Signal()
	if n.abortFn != nil {
		n.abortOnce.Do(n.abortFn)
	}
}

// waitOp returns an Op that becomes ready iff this cond has been signalled.
func (n *NackCond) waitOp() Op {
	return Op{kind: kindPrim,
		try: func() (bool, Values) { return n.latch.Triggered(), nil },
		block: func(s *Suspension, wrap WrapFn) {
			n.latch.AddWaiter(func() { s.Complete(wrap, nil) })
		},
	}
}
