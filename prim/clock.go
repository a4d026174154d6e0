package prim

import (
	"time"

	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/sched"
	"github.com/fibersched/fibersched/timer"
)

// Clock pairs a Scheduler with its Wheel so timeout/sleep ops can be built
// without threading both through every call site (§4.A, §4.E).
type Clock struct {
	Scheduler *sched.Scheduler
	Wheel     *timer.Wheel
}

// NewClock wires a Wheel as a task source of s and returns the pair.
func NewClock(s *sched.Scheduler) *Clock {
	w := timer.New()
	s.AddTaskSource(w)
	return &Clock{Scheduler: s, Wheel: w}
}

// Now returns the scheduler's current notion of time.
func (c *Clock) Now() time.Time { return c.Scheduler.Now() }

// SleepOp blocks the performing fiber for dt, then commits with no values.
func (c *Clock) SleepOp(dt time.Duration) op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			if dt <= 0 {
				return true, nil
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			c.Wheel.AddDelta(c.Now(), dt, s.CompleteTask(wrap, nil))
		},
	)
}

// DeadlineOp blocks the performing fiber until t, then commits with no
// values. A deadline already in the past commits immediately.
func (c *Clock) DeadlineOp(t time.Time) op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			if !t.After(c.Now()) {
				return true, nil
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			c.Wheel.AddAbsolute(t, s.CompleteTask(wrap, nil))
		},
	)
}
