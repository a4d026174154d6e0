package prim

import "github.com/fibersched/fibersched/op"

// Cond is a thin wrapper over a Oneshot: once signalled it stays triggered,
// so new waiters fire immediately (§3).
type Cond struct {
	os *Oneshot
}

// NewCond returns an unsignalled Cond.
func NewCond() *Cond { return &Cond{os: NewOneshot()} }

// Signal fires the condition. Idempotent.
func (c *Cond) Signal() { c.os.Signal() }

// Triggered reports whether Signal has already run.
func (c *Cond) Triggered() bool { return c.os.Triggered() }

// WaitOp is a primitive built on the underlying Oneshot.
func (c *Cond) WaitOp() op.Op { return c.os.WaitOp() }
