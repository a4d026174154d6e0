package op_test

import (
	"testing"
	"time"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/sched"
	"github.com/fibersched/fibersched/timer"
)

// runFiber spawns body on a fresh scheduler+wheel pair and ticks the
// scheduler until the fiber terminates or the deadline passes.
func runFiber(t *testing.T, body fiber.Body) *fiber.Fiber {
	t.Helper()
	s := sched.New(sched.WithMaxSleep(5 * time.Millisecond))
	w := timer.New()
	s.AddTaskSource(w)
	f := fiber.Spawn(s, t.Name(), body)

	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case <-f.Done():
			return f
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("fiber %s did not terminate in time", t.Name())
		}
		s.Tick()
	}
}
