package prim_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/prim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestChannelRendezvousFIFO(t *testing.T) {
	h := newHarness(t)
	ch := prim.NewChannel[int](0)

	var got []int
	consumer := h.spawn("consumer", func(f *fiber.Fiber) (any, error) {
		for i := 0; i < 3; i++ {
			vals := op.Perform(ch.GetOp())
			got = append(got, vals[0].(int))
		}
		return nil, nil
	})
	producer := h.spawn("producer", func(f *fiber.Fiber) (any, error) {
		for i := 0; i < 3; i++ {
			op.Perform(ch.PutOp(i))
		}
		return nil, nil
	})

	h.run(consumer, producer)
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected FIFO [0 1 2], got %v", got)
	}
}

func TestChannelBufferedDoesNotBlockUntilFull(t *testing.T) {
	h := newHarness(t)
	ch := prim.NewChannel[string](2)

	done := false
	producer := h.spawn("producer", func(f *fiber.Fiber) (any, error) {
		op.Perform(ch.PutOp("a"))
		op.Perform(ch.PutOp("b"))
		done = true
		return nil, nil
	})
	h.run(producer)
	if !done {
		t.Fatal("buffered puts should not block while under capacity")
	}
	if got := ch.Len(); got != 2 {
		t.Fatalf("expected 2 buffered values, got %d", got)
	}
}

func TestOneshotWakesExistingAndNewWaiters(t *testing.T) {
	h := newHarness(t)
	os := prim.NewOneshot()

	var before, after bool
	waiter := h.spawn("waiter", func(f *fiber.Fiber) (any, error) {
		op.Perform(os.WaitOp())
		before = true
		return nil, nil
	})
	signaller := h.spawn("signaller", func(f *fiber.Fiber) (any, error) {
		os.Signal()
		return nil, nil
	})
	h.run(waiter, signaller)
	if !before {
		t.Fatal("existing waiter should have woken")
	}

	late := h.spawn("late", func(f *fiber.Fiber) (any, error) {
		op.Perform(os.WaitOp())
		after = true
		return nil, nil
	})
	h.run(late)
	if !after {
		t.Fatal("waiter registered after signal should fire immediately")
	}
}

func TestCondSignalOnce(t *testing.T) {
	c := prim.NewCond()
	if c.Triggered() {
		t.Fatal("fresh Cond must not be triggered")
	}
	c.Signal()
	c.Signal()
	if !c.Triggered() {
		t.Fatal("Cond should be triggered after Signal")
	}
}

func TestWaitGroupGenerationalWake(t *testing.T) {
	h := newHarness(t)
	wg := prim.NewWaitGroup()
	wg.Add(2)

	waited := false
	waiter := h.spawn("waiter", func(f *fiber.Fiber) (any, error) {
		op.Perform(wg.WaitOp())
		waited = true
		return nil, nil
	})
	worker := h.spawn("worker", func(f *fiber.Fiber) (any, error) {
		wg.Done()
		wg.Done()
		return nil, nil
	})
	h.run(waiter, worker)
	if !waited {
		t.Fatal("waiter should unblock once counter reaches zero")
	}
	if wg.Count() != 0 {
		t.Fatalf("expected counter 0, got %d", wg.Count())
	}
}

func TestWaitGroupNegativeCounterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative counter")
		}
	}()
	wg := prim.NewWaitGroup()
	wg.Done()
}

func TestMailboxCloseDrainsBufferThenRejects(t *testing.T) {
	h := newHarness(t)
	mb := prim.NewMailbox[int](2)
	mb.AddSender()

	var got []int
	var okAfterClose bool
	receiver := h.spawn("receiver", func(f *fiber.Fiber) (any, error) {
		op.Perform(mb.SendOp(1))
		op.Perform(mb.SendOp(2))
		mb.ReleaseSender(nil)

		for {
			vals := op.Perform(mb.RecvOp())
			ok := vals[1].(bool)
			if !ok {
				okAfterClose = true
				break
			}
			got = append(got, vals[0].(int))
		}
		return nil, nil
	})
	h.run(receiver)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected drained [1 2], got %v", got)
	}
	if !okAfterClose {
		t.Fatal("recv after close+drain should report ok=false")
	}
	if !mb.Closed() {
		t.Fatal("mailbox should be closed once last sender releases")
	}
}

func TestMailboxNilSendPanics(t *testing.T) {
	mb := prim.NewMailbox[*int](1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic sending nil payload")
		}
	}()
	mb.SendOp(nil)
}

func TestClockSleepThenDeadline(t *testing.T) {
	h := newHarness(t)

	var order []string
	f := h.spawn("sleeper", func(fib *fiber.Fiber) (any, error) {
		op.Perform(h.c.SleepOp(10 * time.Millisecond))
		order = append(order, "slept")
		op.Perform(h.c.DeadlineOp(h.c.Now().Add(5 * time.Millisecond)))
		order = append(order, "deadline")
		return nil, nil
	})
	h.run(f)
	if len(order) != 2 || order[0] != "slept" || order[1] != "deadline" {
		t.Fatalf("expected [slept deadline], got %v", order)
	}
}

func TestTimeoutWinsAgainstNeverReadyChannel(t *testing.T) {
	h := newHarness(t)
	ch := prim.NewChannel[int](0)

	var winner string
	f := h.spawn("racer", func(fib *fiber.Fiber) (any, error) {
		result := op.Perform(op.Choice(
			ch.GetOp().Wrap(func(op.Values) op.Values { return op.Values{"channel"} }),
			h.c.SleepOp(5*time.Millisecond).Wrap(func(op.Values) op.Values { return op.Values{"timeout"} }),
		))
		winner = result[0].(string)
		return nil, nil
	})
	h.run(f)
	if winner != "timeout" {
		t.Fatalf("expected timeout to win, got %q", winner)
	}
}

func TestWaitSetNotifyOneFiresSingleWaiter(t *testing.T) {
	ws := prim.NewWaitSet()
	fired := 0
	unlinkA := ws.Add("fd1", func() { fired++ })
	ws.Add("fd1", func() { fired++ })
	_ = unlinkA

	if !ws.NotifyOne("fd1") {
		t.Fatal("expected a waiter to be found")
	}
	if fired != 1 {
		t.Fatalf("expected exactly one waiter fired, got %d", fired)
	}
	if ws.Len() != 1 {
		t.Fatalf("expected one waiter left registered, got %d", ws.Len())
	}
	ws.NotifyAll("fd1")
	if fired != 2 || ws.Len() != 0 {
		t.Fatalf("expected remaining waiter fired and set drained, got fired=%d len=%d", fired, ws.Len())
	}
}
