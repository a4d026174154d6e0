package scope

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/prim"
	"github.com/fibersched/fibersched/sched"
)

// Policy controls how a scope reacts to its first task fault. FailFast
// (the only behaviour spec.md describes) cancels siblings immediately.
// Supervisor is an ambient-stack extension kept from the teacher: the
// scope still records the fault as its primary error, but does not
// cascade cancellation, so siblings may run to completion.
type Policy int

const (
	FailFast Policy = iota
	Supervisor
)

// Observer receives scope lifecycle events for metrics/tracing hooks; a
// nil Observer on Options disables hooks entirely (near-zero overhead,
// kept from the teacher).
type Observer interface {
	ScopeCreated(s *Scope)
	ScopeCancelled(s *Scope, cause error)
	ScopeJoined(s *Scope, wait time.Duration)
	TaskStarted(s *Scope)
	TaskFinished(s *Scope, dur time.Duration, err error, panicked bool)
}

// Option configures a Scope at construction time (kept from the teacher).
type Option func(*Options)

// Options holds optional Scope settings (kept from the teacher; Deadline/
// Timeout now apply via the shared Clock rather than context.Context).
type Options struct {
	PanicAsError   bool
	Observer       Observer
	MaxConcurrency int
	Timeout        time.Duration
	Deadline       time.Time

	limiterFactory func(*prim.Clock) Limiter
}

func defaultOptions() Options { return Options{PanicAsError: true} }

// WithPanicAsError toggles converting task panics into recorded faults.
func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

// WithObserver attaches an observer for metrics/tracing hooks (nil = disabled).
func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithMaxConcurrency limits the number of concurrent tasks in a scope (n>0).
func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

// WithTimeout applies a relative deadline to the scope (ignored if WithDeadline is also set).
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// WithDeadline applies an absolute deadline to the scope.
func WithDeadline(t time.Time) Option { return func(o *Options) { o.Deadline = t } }

// weighted is the subset of semaphore.Weighted that limit.go's
// weightedLimiter needs; declared here so WithWeightedLimiter doesn't
// force every caller of this file to import x/sync/semaphore.
type weighted interface {
	TryAcquire(int64) bool
	Release(int64)
}

// WithWeightedLimiter selects the golang.org/x/sync/semaphore.Weighted
// backed Limiter (polling) in place of the default channel-based one; see
// limit.go.
func WithWeightedLimiter(sem weighted, pollEvery time.Duration) Option {
	return func(o *Options) {
		o.limiterFactory = func(clock *prim.Clock) Limiter {
			return newWeightedLimiter(sem, clock, pollEvery)
		}
	}
}

var errDeadlineExceeded = errors.New("scope: deadline exceeded")

// cancelledSentinel lets Scope.Perform raise cancellation distinguishably
// from application errors (§4.G "perform(ev) raises on not-ok").
type cancelledSentinel struct{ reason error }

func (e *cancelledSentinel) Error() string { return fmt.Sprintf("scope: cancelled: %v", e.reason) }
func (e *cancelledSentinel) Unwrap() error { return e.reason }

// IsCancelled reports whether err is (or wraps) a cancellation sentinel
// raised by Scope.Perform, and returns the underlying reason.
func IsCancelled(err error) (reason error, ok bool) {
	var ce *cancelledSentinel
	if errors.As(err, &ce) {
		return ce.reason, true
	}
	return nil, false
}

// Scope is a node in the supervision tree (§3 "Scope").
type Scope struct {
	id     uuid.UUID
	sched  *sched.Scheduler
	clock  *prim.Clock
	policy Policy
	opts   Options
	obs    Observer
	lim    Limiter

	parent *Scope

	mu         sync.Mutex
	children   map[uuid.UUID]*Scope
	childOrder []uuid.UUID

	wg *prim.WaitGroup

	closed      bool
	closeReason error

	status       Status
	primary      error
	cancelReason error
	extraErrors  []error
	finalizers   []func(aborted bool, status Status, primary error) error

	closeOS  *prim.Oneshot
	cancelOS *prim.Oneshot
	faultOS  *prim.Oneshot
	joinOS   *prim.Oneshot

	joinStarted bool
	joinOutcome *JoinOutcome
}

var rootPtr atomic.Pointer[Scope]

func defaultRoot() *Scope { return rootPtr.Load() }

// NewRoot constructs the process-wide root scope backed by sc/clock and
// installs it as the default scope for fibers with no current scope
// (§4.G "Tree and current scope").
func NewRoot(sc *sched.Scheduler, clock *prim.Clock, policy Policy, optFns ...Option) *Scope {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	root := newScope(nil, sc, clock, policy, opts)
	rootPtr.Store(root)
	return root
}

func newScope(parent *Scope, sc *sched.Scheduler, clock *prim.Clock, policy Policy, opts Options) *Scope {
	s := &Scope{
		id:       uuid.New(),
		sched:    sc,
		clock:    clock,
		policy:   policy,
		opts:     opts,
		obs:      opts.Observer,
		parent:   parent,
		children: map[uuid.UUID]*Scope{},
		wg:       prim.NewWaitGroup(),
		closeOS:  prim.NewOneshot(),
		cancelOS: prim.NewOneshot(),
		faultOS:  prim.NewOneshot(),
		joinOS:   prim.NewOneshot(),
	}
	switch {
	case opts.limiterFactory != nil:
		s.lim = opts.limiterFactory(clock)
	case opts.MaxConcurrency > 0:
		s.lim = newChanLimiter(opts.MaxConcurrency)
	}
	if !opts.Deadline.IsZero() {
		s.clock.Wheel.AddAbsolute(opts.Deadline, deadlineTask{s})
	} else if opts.Timeout > 0 {
		s.clock.Wheel.AddDelta(clock.Now(), opts.Timeout, deadlineTask{s})
	}
	if s.obs != nil {
		s.obs.ScopeCreated(s)
	}
	return s
}

type deadlineTask struct{ s *Scope }

func (t deadlineTask) Run() { t.s.Cancel(errDeadlineExceeded) }

// ID returns the scope's stable identity.
func (s *Scope) ID() uuid.UUID { return s.id }

// Status returns the scope's current classification. Failed and Cancelled
// are recorded as soon as the fault or cancellation happens; Running turns
// into OK only when the join worker computes the final value.
func (s *Scope) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Primary returns the recorded primary fault, if any.
func (s *Scope) Primary() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// CancelReason returns the recorded cancellation reason, if any.
func (s *Scope) CancelReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelReason
}

func (s *Scope) clockNow() time.Time { return s.clock.Now() }

// Clock returns the shared clock backing this scope's deadline/timeout
// handling and its descendants' sleep/deadline ops.
func (s *Scope) Clock() *prim.Clock { return s.clock }

// Child creates a child Scope attached to s in attachment order; parent
// cancellation cascades to it (§4.G "Tree").
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	childOpts.limiterFactory = nil
	childOpts.MaxConcurrency = 0
	childOpts.Timeout = 0
	childOpts.Deadline = time.Time{}
	for _, fn := range optFns {
		fn(&childOpts)
	}
	cs := newScope(s, s.sched, s.clock, policy, childOpts)
	s.mu.Lock()
	s.children[cs.id] = cs
	s.childOrder = append(s.childOrder, cs.id)
	s.mu.Unlock()
	return cs
}

func (s *Scope) detachChild(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[id]; !ok {
		return
	}
	delete(s.children, id)
	for i, cid := range s.childOrder {
		if cid == id {
			s.childOrder = append(s.childOrder[:i], s.childOrder[i+1:]...)
			break
		}
	}
}

// snapshotChildren returns the currently attached children in attachment
// order (a defensive copy, per §4.G "Cancellation": "cascades ... to every
// current child (snapshot to avoid mutation hazards)").
func (s *Scope) snapshotChildren() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Scope, len(s.childOrder))
	for i, id := range s.childOrder {
		out[i] = s.children[id]
	}
	return out
}

func (s *Scope) closeAdmission(reason error) (first bool) {
	s.mu.Lock()
	first = !s.closed
	s.closed = true
	if first && reason != nil {
		s.closeReason = reason
	}
	s.mu.Unlock()
	return first
}

// Close flips the admission gate so Spawn/Child start rejecting, without
// affecting terminal status (§4.G "Admission gate"). Idempotent.
func (s *Scope) Close(reason error) {
	s.closeAdmission(reason)
	s.closeOS.Signal()
}

// Cancel closes admission with reason, records the cancellation (unless
// the scope already reached the ok terminal), and cascades to every
// currently attached child (§4.G "Cancellation").
func (s *Scope) Cancel(reason error) {
	s.mu.Lock()
	if s.status == StatusOK {
		s.mu.Unlock()
		return
	}
	if reason == nil {
		reason = errors.New("scope: cancelled")
	}
	first := !s.closed
	s.closed = true
	if first {
		s.closeReason = reason
	}
	if s.cancelReason == nil {
		s.cancelReason = reason
	}
	if s.status == StatusRunning {
		s.status = StatusCancelled
	}
	cause := s.cancelReason
	s.mu.Unlock()

	firstSignal := !s.cancelOS.Triggered()
	s.cancelOS.Signal()
	if firstSignal && s.obs != nil {
		s.obs.ScopeCancelled(s, cause)
	}
	for _, c := range s.snapshotChildren() {
		c.Cancel(fmt.Errorf("parent cancelled: %w", cause))
	}
}

// recordFault implements §4.G "Fault recording (fail-fast)".
func (s *Scope) recordFault(err error) {
	if err == nil {
		return
	}
	if reason, ok := IsCancelled(err); ok {
		s.Cancel(reason)
		return
	}

	s.mu.Lock()
	if s.primary != nil {
		s.extraErrors = append(s.extraErrors, err)
		s.mu.Unlock()
		return
	}
	s.primary = err
	s.status = StatusFailed
	policy := s.policy
	s.mu.Unlock()

	s.faultOS.Signal()

	if policy == FailFast {
		s.Cancel(err)
	}
}

// RecordFault records err against s exactly as a failing Spawn'd task
// would: primary-or-extra bookkeeping, fail-fast cascade on FailFast
// policy. Exposed for callers that route a fiber's terminal error into a
// scope from outside Spawn's own recovery (e.g. the runtime package's
// unscoped-error pump, §4.G "Unscoped errors").
func (s *Scope) RecordFault(err error) { s.recordFault(err) }

// TaskFunc is the body a Spawn'd task runs, with s as the ambient
// "current scope" installed for its fiber.
type TaskFunc func(s *Scope) error

// Spawn starts fn as a new fiber owned by s. Returns (false, reason) if s
// is not admitting new work (§4.G "Spawn").
func (s *Scope) Spawn(fn TaskFunc) (bool, error) {
	if fn == nil {
		panic("scope: Spawn requires a non-nil fn")
	}
	s.mu.Lock()
	if s.closed {
		reason := s.closeReason
		s.mu.Unlock()
		return false, reason
	}
	s.mu.Unlock()

	s.wg.Add(1)
	label := fmt.Sprintf("scope:%s", s.id)
	fiber.Spawn(s.sched, label, func(f *fiber.Fiber) (any, error) {
		restore := installCurrent(f, s)

		if s.lim != nil {
			for {
				vals := op.Perform(s.lim.AcquireOp())
				if vals[0].(bool) {
					break
				}
			}
		}

		var taskErr error
		var panicked any
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked = r
				}
			}()
			start := s.clockNow()
			if s.obs != nil {
				s.obs.TaskStarted(s)
			}
			taskErr = fn(s)
			if s.obs != nil {
				s.obs.TaskFinished(s, s.clockNow().Sub(start), taskErr, false)
			}
		}()

		if s.lim != nil {
			s.lim.Release()
		}
		restore()
		unregisterFiber(f)
		s.wg.Done()

		if panicked != nil {
			if perr, ok := panicked.(error); ok {
				if _, cancelled := IsCancelled(perr); cancelled {
					if s.obs != nil {
						s.obs.TaskFinished(s, 0, perr, false)
					}
					s.recordFault(perr)
					return nil, nil
				}
			}
			if s.opts.PanicAsError {
				perr := fmt.Errorf("panic: %v", panicked)
				if s.obs != nil {
					s.obs.TaskFinished(s, 0, perr, true)
				}
				s.recordFault(perr)
				return nil, nil
			}
			if s.obs != nil {
				s.obs.TaskFinished(s, 0, nil, true)
			}
			panic(panicked)
		}

		if taskErr != nil {
			s.recordFault(taskErr)
		}
		return nil, nil
	})
	return true, nil
}

// Go is a thin alias for Spawn, kept for teacher-style callers and
// interop/errgroup compatibility.
func (s *Scope) Go(fn TaskFunc) (bool, error) { return s.Spawn(fn) }

// AddFinalizer registers fn to run (LIFO with other finalisers) once the
// scope's join worker computes a terminal status (§4.G "Join" step 6). An
// error returned by fn is recorded as a fault, possibly changing the
// scope's final status.
func (s *Scope) AddFinalizer(fn func(aborted bool, status Status, primary error) error) {
	s.mu.Lock()
	s.finalizers = append(s.finalizers, fn)
	s.mu.Unlock()
}

func (s *Scope) notOkOp() op.Op {
	return op.Choice(
		s.faultOS.WaitOp().Wrap(func(op.Values) op.Values {
			return op.Values{StatusFailed, s.Primary()}
		}),
		s.cancelOS.WaitOp().Wrap(func(op.Values) op.Values {
			return op.Values{StatusCancelled, s.CancelReason()}
		}),
	)
}

// TryOp wraps ev so that it is raced against the scope's not-ok
// condition, tagging the result with a leading Status (§4.G "Scope-aware
// op performance").
func (s *Scope) TryOp(ev op.Op) op.Op {
	return op.Guard(func() op.Op {
		if st, primary, notOK := s.snapshotNotOk(); notOK {
			return op.Always(st, primary)
		}
		return op.Choice(
			ev.Wrap(func(vals op.Values) op.Values {
				if st, primary, notOK := s.snapshotNotOk(); notOK {
					return op.Values{st, primary}
				}
				return append(op.Values{StatusOK}, vals...)
			}),
			s.notOkOp(),
		)
	})
}

func (s *Scope) snapshotNotOk() (Status, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusFailed:
		return StatusFailed, s.primary, true
	case StatusCancelled:
		return StatusCancelled, s.cancelReason, true
	default:
		return StatusRunning, nil, false
	}
}

// Try performs ev under s, returning a status-first result rather than
// raising on not-ok (§4.G "try(ev) returns status-first").
func (s *Scope) Try(ev op.Op) (Status, op.Values) {
	vals := op.Perform(s.TryOp(ev))
	st := vals[0].(Status)
	return st, vals[1:]
}

// Perform performs ev under s, panicking with the primary error (failed)
// or a cancellation sentinel (cancelled) if the scope is not ok (§4.G
// "perform(ev) raises on not-ok").
func (s *Scope) Perform(ev op.Op) op.Values {
	st, rest := s.Try(ev)
	switch st {
	case StatusOK:
		return rest
	case StatusFailed:
		panic(rest[0])
	case StatusCancelled:
		reason, _ := rest[0].(error)
		panic(&cancelledSentinel{reason: reason})
	default:
		panic("scope: perform: unexpected status")
	}
}
