package prim_test

import (
	"testing"
	"time"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/prim"
	"github.com/fibersched/fibersched/sched"
)

// harness bundles a scheduler+clock pair so tests can spawn fibers and
// drive ticks until they terminate.
type harness struct {
	t *testing.T
	s *sched.Scheduler
	c *prim.Clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := sched.New(sched.WithMaxSleep(5 * time.Millisecond))
	return &harness{t: t, s: s, c: prim.NewClock(s)}
}

func (h *harness) spawn(name string, body fiber.Body) *fiber.Fiber {
	return fiber.Spawn(h.s, name, body)
}

func (h *harness) run(fibers ...*fiber.Fiber) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		allDone := true
		for _, f := range fibers {
			select {
			case <-f.Done():
			default:
				allDone = false
			}
		}
		if allDone {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("fibers did not terminate in time")
		}
		h.s.Tick()
	}
}
