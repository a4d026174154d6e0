package scope_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/prim"
	"github.com/fibersched/fibersched/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSpawnJoinSuccess(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var ran atomic.Int32

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		h.root.Spawn(func(s *scope.Scope) error {
			ran.Add(1)
			return nil
		})
		outcome := h.root.Join()
		if outcome.Status != scope.StatusOK {
			t.Errorf("expected StatusOK, got %v", outcome.Status)
		}
		return nil, nil
	})
	h.runFibers(driver)
	if ran.Load() != 1 {
		t.Fatalf("expected task to run once, got %d", ran.Load())
	}
}

func TestFailFastCancelsSiblings(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	marked := false

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.FailFast)
		s.Spawn(func(cs *scope.Scope) error {
			return errors.New("boom")
		})
		s.Spawn(func(cs *scope.Scope) error {
			if st, _ := cs.Try(h.c.SleepOp(50 * time.Millisecond)); st != scope.StatusOK {
				return cs.CancelReason()
			}
			marked = true
			return nil
		})
		outcome := s.Join()
		if outcome.Status != scope.StatusFailed {
			t.Errorf("expected StatusFailed, got %v", outcome.Status)
		}
		if outcome.Primary == nil || outcome.Primary.Error() != "boom" {
			t.Errorf("expected primary \"boom\", got %v", outcome.Primary)
		}
		return nil, nil
	})
	h.runFibers(driver)
	if marked {
		t.Fatal("sibling should have been cancelled before its sleep completed")
	}
}

func TestSupervisorPolicyLetsSiblingsFinish(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var finished atomic.Bool

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.Supervisor)
		s.Spawn(func(cs *scope.Scope) error { return errors.New("boom") })
		s.Spawn(func(cs *scope.Scope) error {
			finished.Store(true)
			return nil
		})
		outcome := s.Join()
		if outcome.Status != scope.StatusFailed {
			t.Errorf("expected StatusFailed, got %v", outcome.Status)
		}
		return nil, nil
	})
	h.runFibers(driver)
	if !finished.Load() {
		t.Fatal("Supervisor policy should not cancel siblings")
	}
}

func TestMaxConcurrencyBound(t *testing.T) {
	const n, m = 3, 12
	h := newHarness(t, scope.FailFast)
	var cur, max atomic.Int64

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.Supervisor, scope.WithMaxConcurrency(n))
		for i := 0; i < m; i++ {
			s.Spawn(func(cs *scope.Scope) error {
				c := cur.Add(1)
				for {
					if v := max.Load(); c > v {
						max.CompareAndSwap(v, c)
					}
					break
				}
				op.Perform(h.c.SleepOp(2 * time.Millisecond))
				cur.Add(-1)
				return nil
			})
		}
		s.Join()
		return nil, nil
	})
	h.runFibers(driver)
	if got := max.Load(); got > n {
		t.Fatalf("observed concurrency %d exceeds limit %d", got, n)
	}
}

func TestFinalizersRunLIFO(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var order []int

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.FailFast)
		s.AddFinalizer(func(aborted bool, st scope.Status, primary error) error {
			order = append(order, 1)
			return nil
		})
		s.AddFinalizer(func(aborted bool, st scope.Status, primary error) error {
			order = append(order, 2)
			return nil
		})
		s.AddFinalizer(func(aborted bool, st scope.Status, primary error) error {
			order = append(order, 3)
			return nil
		})
		s.Join()
		return nil, nil
	})
	h.runFibers(driver)
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected LIFO [3 2 1], got %v", order)
	}
}

func TestRunOpLosingChoiceCancelsChild(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var childCancelled bool
	var winner string

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		var childRef *scope.Scope
		runOp := h.root.RunOp(func(cs *scope.Scope) (any, error) {
			childRef = cs
			op.Perform(h.c.SleepOp(100 * time.Millisecond))
			return "slow", nil
		})
		result := op.Perform(op.Choice(
			runOp.Wrap(func(op.Values) op.Values { return op.Values{"run_op"} }),
			h.c.SleepOp(5*time.Millisecond).Wrap(func(op.Values) op.Values { return op.Values{"timeout"} }),
		))
		winner = result[0].(string)
		op.Perform(h.c.SleepOp(5 * time.Millisecond))
		if childRef != nil {
			childCancelled = childRef.Status() == scope.StatusCancelled
		}
		return nil, nil
	})
	h.runFibers(driver)
	if winner != "timeout" {
		t.Fatalf("expected timeout to win, got %q", winner)
	}
	if !childCancelled {
		t.Fatal("run_op's child scope should be cancelled once it loses the choice")
	}
}

func TestScopePerformRaisesCancellationSentinel(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var gotReason error
	var caught bool

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.FailFast)
		s.Cancel(errors.New("shutdown"))
		func() {
			defer func() {
				if r := recover(); r != nil {
					if err, ok := r.(error); ok {
						if reason, ok := scope.IsCancelled(err); ok {
							caught = true
							gotReason = reason
						}
					}
				}
			}()
			s.Perform(op.Always(1))
		}()
		return nil, nil
	})
	h.runFibers(driver)
	if !caught {
		t.Fatal("expected Perform to panic with a cancellation sentinel")
	}
	if gotReason == nil || gotReason.Error() != "shutdown" {
		t.Fatalf("expected reason \"shutdown\", got %v", gotReason)
	}
}

func TestDeadlineCancelsScope(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	var status scope.Status

	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		s := h.root.Child(scope.FailFast, scope.WithTimeout(5*time.Millisecond))
		s.Spawn(func(cs *scope.Scope) error {
			op.Perform(h.c.SleepOp(200 * time.Millisecond))
			return nil
		})
		outcome := s.Join()
		status = outcome.Status
		return nil, nil
	})
	h.runFibers(driver)
	if status != scope.StatusCancelled {
		t.Fatalf("expected StatusCancelled from timeout, got %v", status)
	}
}

func TestWithOpRunsBuilderUnderChildScope(t *testing.T) {
	h := newHarness(t, scope.FailFast)
	ch := prim.NewChannel[int](0)
	var got int

	producer := h.spawnRaw("producer", func(pf *fiber.Fiber) (any, error) {
		op.Perform(ch.PutOp(42))
		return nil, nil
	})
	driver := h.spawnRaw("driver", func(f *fiber.Fiber) (any, error) {
		ev := h.root.WithOp(func(cs *scope.Scope) op.Op {
			return ch.GetOp()
		})
		vals := op.Perform(ev)
		got = vals[0].(int)
		return nil, nil
	})
	h.runFibers(driver, producer)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
