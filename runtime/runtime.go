// Package runtime wires sched, prim and scope into the top-level entry
// point described by spec.md §4.F/§6: it owns the single scheduler loop
// that drives every fiber, starts the unscoped-error pump, and re-exports
// the op combinators and the scope-aware Spawn/Perform/TryPerform/Now
// helpers so callers outside scope/op never need to import them directly —
// the way the teacher's examples/ tree calls straight into scope.
package runtime

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/prim"
	"github.com/fibersched/fibersched/sched"
	"github.com/fibersched/fibersched/scope"
)

// Runtime bundles the scheduler, clock and root scope a process-wide Run
// call constructs. Most callers never touch this directly; it exists for
// embedders that want access to the scheduler (e.g. to wire a custom
// TaskSource) alongside the Spawn/Perform ergonomics below.
type Runtime struct {
	Scheduler *sched.Scheduler
	Clock     *prim.Clock
	Root      *scope.Scope
}

var active atomic.Pointer[Runtime]

// UnscopedErrorHandler handles a fiber error that has no associated scope
// (e.g. a fiber spawned directly via fiber.Spawn rather than scope.Spawn).
type UnscopedErrorHandler func(*fiber.Error)

// Options configures Run.
type Options struct {
	Policy          scope.Policy
	SchedOpts       []sched.Option
	ScopeOpts       []scope.Option
	Logger          *zap.Logger
	OnUnscopedError UnscopedErrorHandler
}

// Option configures Run's Options.
type Option func(*Options)

// WithPolicy sets the root scope's fault policy (default FailFast).
func WithPolicy(p scope.Policy) Option { return func(o *Options) { o.Policy = p } }

// WithSchedOptions forwards options to sched.New.
func WithSchedOptions(opts ...sched.Option) Option {
	return func(o *Options) { o.SchedOpts = append(o.SchedOpts, opts...) }
}

// WithScopeOptions forwards options to scope.NewRoot.
func WithScopeOptions(opts ...scope.Option) Option {
	return func(o *Options) { o.ScopeOpts = append(o.ScopeOpts, opts...) }
}

// WithLogger sets the diagnostic logger used for the root scheduler and
// the unscoped-error pump's default handler.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.Logger = l
	}
}

// WithUnscopedErrorHandler overrides how a fiber error with no associated
// scope is handled; the default logs it at Error level.
func WithUnscopedErrorHandler(fn UnscopedErrorHandler) Option {
	return func(o *Options) { o.OnUnscopedError = fn }
}

func defaultOptions() Options {
	return Options{Policy: scope.FailFast, Logger: zap.NewNop()}
}

// Run constructs a scheduler, clock and root scope, runs main under a
// fresh child of the root scope, drives the scheduler loop until main
// returns, drains outstanding work, and returns main's result (§4.F
// "runtime.Run is the top-level entry point"). Only one Run may be active
// per process at a time; nesting Run inside a running fiber is a
// programmer error and panics.
func Run(main func(cs *scope.Scope) (any, error), optFns ...Option) (any, error) {
	if fiber.Current() != nil {
		panic("runtime: Run called from inside a fiber")
	}
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.OnUnscopedError == nil {
		logger := opts.Logger
		opts.OnUnscopedError = func(e *fiber.Error) {
			logger.Error("unscoped fiber error",
				zap.String("fiber", e.Fiber.ID().String()),
				zap.String("traceback", e.Traceback),
				zap.Error(e.Err),
			)
		}
	}

	schedOpts := append([]sched.Option{sched.WithLogger(opts.Logger)}, opts.SchedOpts...)
	s := sched.New(schedOpts...)
	clock := prim.NewClock(s)
	root := scope.NewRoot(s, clock, opts.Policy, opts.ScopeOpts...)

	if !active.CompareAndSwap(nil, &Runtime{Scheduler: s, Clock: clock, Root: root}) {
		panic("runtime: Run is already active in this process")
	}
	defer active.Store(nil)

	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		runErrorPump(stop, opts.OnUnscopedError)
	}()

	var status scope.Status
	var report scope.ScopeReport
	var result any
	var resultErr error

	driver := fiber.Spawn(s, "runtime:main", func(f *fiber.Fiber) (any, error) {
		status, report, result, resultErr = root.Run(main)
		return nil, nil
	})

	for {
		select {
		case <-driver.Done():
			s.Shutdown(64)
			close(stop)
			<-pumpDone
			return result, finalError(status, report, resultErr)
		default:
			s.Tick()
		}
	}
}

func finalError(status scope.Status, report scope.ScopeReport, resultErr error) error {
	if resultErr != nil {
		return resultErr
	}
	if status == scope.StatusOK {
		return nil
	}
	if len(report.ExtraErrors) > 0 {
		return report.ExtraErrors[0]
	}
	return fmt.Errorf("runtime: main finished with status %s", status)
}

// runErrorPump drains fiber.WaitFiberError until stop is closed, routing
// each error to its owning scope's RecordFault if one is registered, or to
// handler otherwise (§4.G "Unscoped errors"). Errors from fibers spawned
// through scope.Spawn reach here only when the scope has PanicAsError
// disabled and a task panics; Spawn has unregistered that fiber by then, so
// such errors go to handler. Other errors come from fibers started directly
// via fiber.Spawn.
func runErrorPump(stop <-chan struct{}, handler UnscopedErrorHandler) {
	for {
		e, ok := fiber.WaitFiberError(stop)
		if !ok {
			return
		}
		if s, found := scope.ScopeOf(e.Fiber); found {
			s.RecordFault(e.Err)
			continue
		}
		handler(e)
	}
}

// Now returns the active runtime's clock time. Panics if no Run is active.
func Now() time.Time {
	rt := active.Load()
	if rt == nil {
		panic("runtime: Now called with no active runtime")
	}
	return rt.Clock.Now()
}

// Current returns the process-wide Runtime installed by the innermost Run
// call, or nil if none is active.
func Current() *Runtime { return active.Load() }

// Spawn starts fn under the calling fiber's current scope (scope.Current).
func Spawn(fn scope.TaskFunc) (bool, error) { return scope.Current().Spawn(fn) }

// Perform performs ev under the calling fiber's current scope, raising on
// scope failure/cancellation (scope.Scope.Perform).
func Perform(ev op.Op) op.Values { return scope.Current().Perform(ev) }

// TryPerform performs ev under the calling fiber's current scope,
// returning a status-first result instead of raising (scope.Scope.Try).
func TryPerform(ev op.Op) (scope.Status, op.Values) { return scope.Current().Try(ev) }
