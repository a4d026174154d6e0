package op

import (
	"sync"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/sched"
)

type suspState int32

const (
	stateWaiting suspState = iota
	stateSynchronized
)

// Suspension is the per-perform-call record shared by every compiled leaf
// of a composite op (§3). The first leaf to complete it transitions the
// state and schedules the fiber; later completions are dropped.
type Suspension struct {
	mu    sync.Mutex
	state suspState

	fiber     *fiber.Fiber
	scheduler *sched.Scheduler

	wrap   WrapFn
	values Values

	cleanups []func()
}

func newSuspension(f *fiber.Fiber, s *sched.Scheduler) *Suspension {
	return &Suspension{fiber: f, scheduler: s, state: stateWaiting}
}

// IsWaiting reports whether the suspension has not yet been completed by
// any leaf. Channel/Mailbox queues use this to implement pop_active: a
// dequeued entry whose suspension already won another arm of a choice is
// discarded rather than completed a second time (§4.E).
func (s *Suspension) IsWaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateWaiting
}

// Complete transitions the suspension to synchronized and schedules the
// owning fiber's resume, unless some other leaf already completed it. wrap
// is applied (by the resumed perform call) to values to produce the result.
func (s *Suspension) Complete(wrap WrapFn, values Values) {
	s.mu.Lock()
	if s.state != stateWaiting {
		s.mu.Unlock()
		return
	}
	s.state = stateSynchronized
	s.wrap = wrap
	s.values = values
	s.mu.Unlock()
	s.fiber.ScheduleResume(s.scheduler)
}

// AddCleanup registers a callback invoked once the suspension completes,
// regardless of which leaf won. Intended for out-of-core backends (a future
// fd-poller) that must actively unlink themselves from an external waitset
// rather than relying on the lazy pop_active-style skip that prim's own
// Channel/Mailbox use (§6).
func (s *Suspension) AddCleanup(fn func()) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

func (s *Suspension) runCleanups() {
	s.mu.Lock()
	cs := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()
	for _, c := range cs {
		c()
	}
}

// completeTask is the sched.Task returned by CompleteTask: running it
// completes the suspension if still waiting; cancelling it instead
// completes with the (ok=false, reason) convention (§3 "CompleteTask").
type completeTask struct {
	s         *Suspension
	wrap      WrapFn
	values    Values
	cancelled bool
	reason    error
}

func (t *completeTask) Run() {
	if t.cancelled {
		t.s.Complete(t.wrap, Values{false, t.reason})
		return
	}
	t.s.Complete(t.wrap, t.values)
}

func (t *completeTask) Cancel(reason error) {
	t.cancelled = true
	t.reason = reason
	t.Run()
}

// CompleteTask returns a sched.Task that, when the scheduler runs it,
// completes the suspension (only if still waiting) with wrap/values. The
// task additionally implements sched.Cancelable: cancelling it completes
// the suspension with (ok=false, reason) instead (§6).
func (s *Suspension) CompleteTask(wrap WrapFn, values Values) sched.Task {
	return &completeTask{s: s, wrap: wrap, values: values}
}
