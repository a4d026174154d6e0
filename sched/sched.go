// Package sched implements the single-threaded run-queue scheduler that
// drives fibers: a pluggable set of task sources feeds a run queue and an
// optional event waiter backs the idle wait. The timer wheel is one such
// source; New does not install it (prim.NewClock does).
package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is the scheduler's unit of dispatch.
type Task interface {
	Run()
}

// Cancelable is implemented by tasks that can be told to give up instead of
// running to completion (e.g. a CompleteTask backing a timed-out suspension).
type Cancelable interface {
	Cancel(reason error)
}

// TaskSource feeds ready tasks into the scheduler once per tick.
// ScheduleTasks must be non-blocking.
type TaskSource interface {
	ScheduleTasks(s *Scheduler, now time.Time)
}

// EventWaiter is an optional capability of a TaskSource: it owns the idle
// wait instead of the scheduler sleeping. Installing a second event waiter
// replaces the first (see AddTaskSource).
type EventWaiter interface {
	WaitForEvents(s *Scheduler, now time.Time, timeout time.Duration)
}

// Canceler is an optional capability of a TaskSource invoked during
// Shutdown's best-effort drain.
type Canceler interface {
	CancelAllTasks(s *Scheduler)
}

// Clock abstracts time so tests can control the scheduler's notion of now.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Scheduler at construction time.
type Option func(*Options)

// Options holds optional scheduler settings.
type Options struct {
	MaxSleep time.Duration
	Logger   *zap.Logger
	Clock    Clock
	Sources  []TaskSource
}

func defaultOptions() Options {
	return Options{MaxSleep: 1 * time.Second, Logger: zap.NewNop(), Clock: realClock{}}
}

// WithMaxSleep bounds how long the scheduler may idle between ticks.
func WithMaxSleep(d time.Duration) Option { return func(o *Options) { o.MaxSleep = d } }

// WithLogger attaches a structured logger for diagnostic tick/dispatch logs.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.Logger = l
	}
}

// WithClock overrides the scheduler's time source (tests only, normally unset).
func WithClock(c Clock) Option { return func(o *Options) { o.Clock = c } }

// WithTaskSource registers an additional task source at construction time.
func WithTaskSource(src TaskSource) Option {
	return func(o *Options) { o.Sources = append(o.Sources, src) }
}

// Scheduler is the single-threaded run-queue driver described by §4.B.
type Scheduler struct {
	cur  []Task
	next []Task

	sources []TaskSource
	waiter  EventWaiter

	maxSleep time.Duration
	clock    Clock
	logger   *zap.Logger

	done bool
}

// New constructs a Scheduler. The timer wheel source must be installed by
// the caller via AddTaskSource (the timer package's Wheel implements
// TaskSource+EventWaiter-free scheduling); fibersched's runtime package
// wires this automatically.
func New(opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	s := &Scheduler{maxSleep: o.MaxSleep, clock: o.Clock, logger: o.Logger}
	for _, src := range o.Sources {
		s.AddTaskSource(src)
	}
	return s
}

// Logger returns the scheduler's diagnostic logger (never nil).
func (s *Scheduler) Logger() *zap.Logger { return s.logger }

// Now returns the scheduler's current notion of monotonic time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// AddTaskSource registers a task source. If it implements EventWaiter, it
// replaces any previously installed event waiter (§4.B: "installing a
// second event waiter replaces the first").
func (s *Scheduler) AddTaskSource(src TaskSource) {
	s.sources = append(s.sources, src)
	if w, ok := src.(EventWaiter); ok {
		s.waiter = w
	}
}

// Schedule enqueues a task to run on the next tick. It takes no lock: call
// it only from the goroutine driving Tick or from a fiber body that Tick is
// currently running.
func (s *Scheduler) Schedule(t Task) {
	s.next = append(s.next, t)
}

// Done reports whether Shutdown has stopped the loop.
func (s *Scheduler) Done() bool { return s.done }

// Stop requests the main loop to exit after the current tick.
func (s *Scheduler) Stop() { s.done = true }

func (s *Scheduler) waitForEvents(now time.Time, timeout time.Duration) {
	if s.waiter != nil {
		s.waiter.WaitForEvents(s, now, timeout)
		return
	}
	if timeout > 0 {
		time.Sleep(timeout)
	}
}

func (s *Scheduler) nextWake() (time.Time, bool) {
	// Sources that also expose NextFire (the timer wheel) report their
	// earliest pending wake; other sources are assumed always-ready or
	// externally woken via their own EventWaiter.
	type nextFirer interface {
		NextFire() (time.Time, bool)
	}
	var best time.Time
	found := false
	for _, src := range s.sources {
		if nf, ok := src.(nextFirer); ok {
			if t, ok2 := nf.NextFire(); ok2 {
				if !found || t.Before(best) {
					best, found = t, true
				}
			}
		}
	}
	return best, found
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Tick runs exactly one iteration of the main loop (§4.B step 1-2).
func (s *Scheduler) Tick() {
	now := s.clock.Now()
	timeout := s.maxSleep
	if wake, ok := s.nextWake(); ok {
		timeout = clampDuration(wake.Sub(now), 0, s.maxSleep)
	}
	if len(s.cur) == 0 && len(s.next) == 0 {
		s.waitForEvents(now, timeout)
	}

	now = s.clock.Now()
	for _, src := range s.sources {
		src.ScheduleTasks(s, now)
	}

	s.cur, s.next = s.next, s.cur
	s.next = s.next[:0]
	s.logger.Debug("sched: tick", zap.Int("tasks", len(s.cur)))

	for i := 0; i < len(s.cur); i++ {
		t := s.cur[i]
		s.cur[i] = nil
		if t == nil {
			continue
		}
		t.Run()
	}
	s.cur = s.cur[:0]
}

// Run drives the scheduler until Stop is called or the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	for !s.done {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.Tick()
	}
}

// Shutdown performs the best-effort drain described in §4.B: up to
// maxIterations of (cancel every source; stop if the run queue is empty;
// otherwise run a tick). Timers remain queued but never fire again once the
// loop stops.
func (s *Scheduler) Shutdown(maxIterations int) {
	for i := 0; i < maxIterations; i++ {
		for _, src := range s.sources {
			if c, ok := src.(Canceler); ok {
				c.CancelAllTasks(s)
			}
		}
		if len(s.cur) == 0 && len(s.next) == 0 {
			s.done = true
			return
		}
		s.Tick()
	}
	s.done = true
}
