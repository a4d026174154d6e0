// Package fiber implements cooperative lightweight tasks (§4.C). A Fiber
// wraps a goroutine with a rendezvous-channel handoff protocol so that the
// scheduler drives exactly one fiber's body at a time, matching the
// single-threaded cooperative model described in spec §5: the scheduler
// hands a resume token to a fiber and blocks until that fiber suspends
// again or terminates, before moving on to the next task.
package fiber

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fibersched/fibersched/sched"
)

// Body is the function a fiber executes. Its context is whatever the
// caller passed in; fibersched threads no implicit context.Context.
type Body func(f *Fiber) (any, error)

// Error records an uncaught fiber failure or panic for the error pump
// (§4.G "Unscoped errors").
type Error struct {
	Fiber     *Fiber
	Err       error
	Traceback string
}

// Fiber is a cooperative task with a creation traceback and an alive flag.
type Fiber struct {
	id        uuid.UUID
	scheduler *sched.Scheduler
	traceback string

	resumeCh chan struct{}
	parkedCh chan struct{}
	termCh   chan struct{}
	termOnce sync.Once

	alive atomic.Bool

	mu     sync.Mutex
	result any
	err    error
}

// resumeTask is the sched.Task that hands the baton to a fiber. Running it
// blocks until the fiber parks again or terminates — this is what gives the
// scheduler loop its single-active-fiber-at-a-time semantics.
type resumeTask struct{ f *Fiber }

func (t *resumeTask) Run() {
	t.f.resumeCh <- struct{}{}
	<-t.f.parkedCh
}

// Spawn wraps fn in a new Fiber and schedules its first resume. traceback
// is a caller-supplied creation-site label used for diagnostics.
func Spawn(s *sched.Scheduler, traceback string, fn Body) *Fiber {
	f := &Fiber{
		id:        uuid.New(),
		scheduler: s,
		traceback: traceback,
		resumeCh:  make(chan struct{}),
		parkedCh:  make(chan struct{}),
		termCh:    make(chan struct{}),
	}
	f.alive.Store(true)

	go func() {
		<-f.resumeCh
		pushCurrent(f)
		res, err := runProtected(f, fn)
		popCurrent(f)
		f.alive.Store(false)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
		if err != nil {
			publishError(&Error{Fiber: f, Err: err, Traceback: f.traceback})
		}
		f.termOnce.Do(func() { close(f.termCh) })
		f.parkedCh <- struct{}{}
	}()

	s.Schedule(&resumeTask{f: f})
	return f
}

func runProtected(f *Fiber, fn Body) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fiber %s panicked: %v", f.id, r)
		}
	}()
	return fn(f)
}

// ID returns the fiber's stable identity.
func (f *Fiber) ID() uuid.UUID { return f.id }

// Traceback returns the creation-site label recorded at Spawn.
func (f *Fiber) Traceback() string { return f.traceback }

// Alive reports whether the fiber's body has not yet returned.
func (f *Fiber) Alive() bool { return f.alive.Load() }

// Scheduler returns the scheduler driving this fiber.
func (f *Fiber) Scheduler() *sched.Scheduler { return f.scheduler }

// Done is closed once the fiber's body has returned (successfully, with an
// error, or via panic).
func (f *Fiber) Done() <-chan struct{} { return f.termCh }

// Result returns the fiber's terminal (value, error); only meaningful once
// Done is closed.
func (f *Fiber) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Park suspends the calling fiber's goroutine until some future task calls
// ScheduleResume for it. Callers (the op package's slow path) must have
// already arranged for that future resume before calling Park — Park itself
// performs no arranging, matching spec §4.D's split between "block" (which
// arranges) and the subsequent yield.
//
// Park is the other half of currentStack's bracketing (see pushCurrent):
// the calling fiber stops being "current" the moment it hands the baton
// back to the scheduler, and becomes current again only once some future
// resumeTask actually resumes its body.
func (f *Fiber) Park() {
	popCurrent(f)
	f.parkedCh <- struct{}{}
	<-f.resumeCh
	pushCurrent(f)
}

// ScheduleResume enqueues a task that will hand the baton back to f on a
// future tick. Used by op.Suspension.Complete and by Yield.
func (f *Fiber) ScheduleResume(s *sched.Scheduler) {
	s.Schedule(&resumeTask{f: f})
}

// Yield re-queues the current fiber and suspends (§4.C).
func (f *Fiber) Yield() {
	f.ScheduleResume(f.scheduler)
	f.Park()
}

// currentStack is the process-wide current_fiber holder from §4.C. It is a
// plain stack, not a goroutine-local map: the resumeTask baton guarantees
// that at most one fiber body is actually executing at any instant (every
// other fiber goroutine is parked on a channel receive), and each baton
// handoff is itself a channel send/receive pair, so the happens-before
// relation Go's memory model gives channel operations totally orders all
// access to this stack.
//
// Being "current" is a property of a running execution segment, not of a
// fiber's whole lifetime: a fiber is current only between the moment some
// resumeTask actually hands it the baton and the moment it next parks
// (temporarily, via Park, or permanently, by returning). pushCurrent/
// popCurrent must therefore bracket every such segment — not just the
// first one (goroutine start) and the last one (goroutine exit) — which is
// why they are called from both Spawn's goroutine and Park. Getting this
// wrong (pushing once at spawn, popping once at termination) makes a
// second fiber's spawn leave the first fiber on the stack underneath it
// for as long as both are alive, so Current() returns whichever fiber was
// spawned most recently rather than whichever is actually executing.
var currentStack []*Fiber

func pushCurrent(f *Fiber) { currentStack = append(currentStack, f) }

// popCurrent removes f from the top of currentStack. f must be the top
// element — if it isn't, some push/pop pair was mismatched (a caller
// parked or terminated without having pushed, or pushed without a
// matching pop), which is a bug in this package, not a recoverable runtime
// condition.
func popCurrent(f *Fiber) {
	n := len(currentStack)
	if n == 0 || currentStack[n-1] != f {
		panic("fiber: popCurrent: current-fiber stack is corrupted")
	}
	currentStack = currentStack[:n-1]
}

// Current returns the fiber whose body is presently executing, or nil if
// called from outside any fiber.
func Current() *Fiber {
	if len(currentStack) == 0 {
		return nil
	}
	return currentStack[len(currentStack)-1]
}
