package op_test

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAlwaysCommitsImmediately(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		vals := op.Perform(op.Always(42, "ok"))
		return vals, nil
	})
	res, err := f.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vals := res.(op.Values)
	if len(vals) != 2 || vals[0] != 42 || vals[1] != "ok" {
		t.Fatalf("unexpected values: %#v", vals)
	}
}

func TestChoicePicksAReadyArm(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		vals := op.Perform(op.Choice(op.Never(), op.Always("winner")))
		return vals, nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	if len(vals) != 1 || vals[0] != "winner" {
		t.Fatalf("unexpected values: %#v", vals)
	}
}

func TestWrapComposesInDeclarationOrder(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		base := op.Always("x")
		wrapped := base.
			Wrap(func(v op.Values) op.Values { return append(v, "f") }).
			Wrap(func(v op.Values) op.Values { return append(v, "g") })
		vals := op.Perform(wrapped)
		return vals, nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	want := []any{"x", "f", "g"}
	if len(vals) != len(want) {
		t.Fatalf("unexpected values: %#v", vals)
	}
	for i, w := range want {
		if vals[i] != w {
			t.Fatalf("unexpected values: %#v", vals)
		}
	}
}

func TestWithNackFiresOnlyWhenArmLoses(t *testing.T) {
	t.Run("loses", func(t *testing.T) {
		marked := make(chan struct{}, 1)
		f := runFiber(t, func(fb *fiber.Fiber) (any, error) {
			ev := op.WithNack(func(nack op.Op) op.Op {
				fiber.Spawn(fb.Scheduler(), "nack-waiter", func(*fiber.Fiber) (any, error) {
					op.Perform(nack)
					marked <- struct{}{}
					return nil, nil
				})
				return op.Never()
			})
			vals := op.Perform(op.Choice(ev, op.Always("W")))
			// Give the nack waiter a turn before this fiber ends and
			// runFiber stops ticking.
			fb.Yield()
			return vals, nil
		})
		res, err := f.Result()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		vals := res.(op.Values)
		if vals[0] != "W" {
			t.Fatalf("expected W, got %#v", vals)
		}
		select {
		case <-marked:
		default:
			t.Fatalf("expected nack waiter to observe the signal")
		}
	})

	t.Run("wins", func(t *testing.T) {
		marked := make(chan struct{}, 1)
		f := runFiber(t, func(fb *fiber.Fiber) (any, error) {
			ev := op.WithNack(func(nack op.Op) op.Op {
				fiber.Spawn(fb.Scheduler(), "nack-waiter", func(*fiber.Fiber) (any, error) {
					op.Perform(nack)
					marked <- struct{}{}
					return nil, nil
				})
				return op.Always("X")
			})
			vals := op.Perform(ev)
			return vals, nil
		})
		res, _ := f.Result()
		vals := res.(op.Values)
		if vals[0] != "X" {
			t.Fatalf("expected X, got %#v", vals)
		}
		select {
		case <-marked:
			t.Fatalf("nack should not have fired when its arm won")
		default:
		}
	})
}

func TestOrElseFallsBackWhenNoLeafReady(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		vals := op.Perform(op.Never().OrElse(func() op.Values { return op.Values{"fallback"} }))
		return vals, nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	if vals[0] != "fallback" {
		t.Fatalf("expected fallback, got %#v", vals)
	}
}

func TestOrElsePrefersReadyArm(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		vals := op.Perform(op.Always("primary").OrElse(func() op.Values { return op.Values{"fallback"} }))
		return vals, nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	if vals[0] != "primary" {
		t.Fatalf("expected primary, got %#v", vals)
	}
}

func TestBracketReleasesOnCommitAndOnAbort(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		var aborted *bool
		f := runFiber(t, func(*fiber.Fiber) (any, error) {
			ev := op.Bracket(
				func() any { return "resource" },
				func(_ any, ab bool) { aborted = &ab },
				func(r any) op.Op { return op.Always(r) },
			)
			return op.Perform(ev), nil
		})
		if _, err := f.Result(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if aborted == nil || *aborted {
			t.Fatalf("expected release(aborted=false)")
		}
	})

	t.Run("abort", func(t *testing.T) {
		var aborted *bool
		f := runFiber(t, func(*fiber.Fiber) (any, error) {
			ev := op.Bracket(
				func() any { return "resource" },
				func(_ any, ab bool) { aborted = &ab },
				func(r any) op.Op { return op.Never() },
			)
			return op.Perform(op.Choice(ev, op.Always("other"))), nil
		})
		if _, err := f.Result(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if aborted == nil || !*aborted {
			t.Fatalf("expected release(aborted=true)")
		}
	})
}

func TestBooleanChoiceTagsWinner(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		return op.Perform(op.BooleanChoice(op.Always("a"), op.Never())), nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	if vals[0] != true || vals[1] != "a" {
		t.Fatalf("unexpected values: %#v", vals)
	}
}

func TestNamedChoiceTagsWinner(t *testing.T) {
	f := runFiber(t, func(*fiber.Fiber) (any, error) {
		return op.Perform(op.NamedChoice(map[string]op.Op{
			"a": op.Never(),
			"b": op.Always("done"),
		})), nil
	})
	res, _ := f.Result()
	vals := res.(op.Values)
	if vals[0] != "b" || vals[1] != "done" {
		t.Fatalf("unexpected values: %#v", vals)
	}
}

func TestPerformOutsideFiberPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	op.Perform(op.Always(1))
}
