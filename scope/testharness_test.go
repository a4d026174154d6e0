package scope_test

import (
	"testing"
	"time"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/prim"
	"github.com/fibersched/fibersched/sched"
	"github.com/fibersched/fibersched/scope"
)

// harness bundles a scheduler, clock, and root scope, and can drive ticks
// until a set of fibers terminate.
type harness struct {
	t    *testing.T
	s    *sched.Scheduler
	c    *prim.Clock
	root *scope.Scope
}

func newHarness(t *testing.T, policy scope.Policy, optFns ...scope.Option) *harness {
	t.Helper()
	s := sched.New(sched.WithMaxSleep(5 * time.Millisecond))
	c := prim.NewClock(s)
	root := scope.NewRoot(s, c, policy, optFns...)
	return &harness{t: t, s: s, c: c, root: root}
}

func (h *harness) spawnRaw(name string, body fiber.Body) *fiber.Fiber {
	return fiber.Spawn(h.s, name, body)
}

func (h *harness) runUntil(done func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			h.t.Fatalf("condition not met in time")
		}
		h.s.Tick()
	}
}

func (h *harness) runFibers(fibers ...*fiber.Fiber) {
	h.runUntil(func() bool {
		for _, f := range fibers {
			select {
			case <-f.Done():
			default:
				return false
			}
		}
		return true
	})
}
