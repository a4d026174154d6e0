package scope

import (
	"errors"
	"fmt"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
)

// BodyFunc is the function a Run/RunOp/WithOp boundary executes under a
// fresh child scope.
type BodyFunc func(cs *Scope) (any, error)

func runBody(child *Scope, body BodyFunc) (result any, resultErr error) {
	var panicked any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = r
			}
		}()
		result, resultErr = body(child)
	}()
	if panicked != nil {
		if perr, ok := panicked.(error); ok {
			if _, cancelled := IsCancelled(perr); cancelled {
				child.recordFault(perr)
				return result, resultErr
			}
		}
		child.recordFault(fmt.Errorf("panic: %v", panicked))
	} else if resultErr != nil {
		child.recordFault(resultErr)
	}
	return result, resultErr
}

// Run runs body in a fresh child scope inside a new fiber, awaits its
// join, and returns the reporting tuple described by §4.G "Boundaries":
// body's failure or the child's cancellation is reported, not raised.
func (s *Scope) Run(body BodyFunc, optFns ...Option) (Status, ScopeReport, any, error) {
	child := s.Child(FailFast, optFns...)
	var result any
	var resultErr error

	label := fmt.Sprintf("scope-run:%s", child.id)
	child.wg.Add(1)
	fiber.Spawn(s.sched, label, func(f *fiber.Fiber) (any, error) {
		restore := installCurrent(f, child)
		result, resultErr = runBody(child, body)
		restore()
		unregisterFiber(f)
		child.wg.Done()
		return nil, nil
	})

	outcome := child.Join()
	return outcome.Status, outcome.Report, result, firstErr(outcome.Primary, resultErr)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// RunOp is Run lifted into an Op so the whole subtree can be raced against
// other ops: if it loses a surrounding choice, the child scope is
// cancelled with reason "aborted" and joined deterministically before the
// nack firing completes (§4.G "run_op(...)").
func (s *Scope) RunOp(body BodyFunc, optFns ...Option) op.Op {
	return op.Guard(func() op.Op {
		child := s.Child(FailFast, optFns...)
		var result any
		var resultErr error

		label := fmt.Sprintf("scope-run-op:%s", child.id)
		child.wg.Add(1)
		fiber.Spawn(s.sched, label, func(f *fiber.Fiber) (any, error) {
			restore := installCurrent(f, child)
			result, resultErr = runBody(child, body)
			restore()
			unregisterFiber(f)
			child.wg.Done()
			return nil, nil
		})

		return child.JoinOp().Wrap(func(vals op.Values) op.Values {
			outcome := vals[0].(JoinOutcome)
			return op.Values{outcome.Status, outcome.Report, result, firstErr(outcome.Primary, resultErr)}
		}).OnAbort(func() {
			child.Cancel(errors.New("aborted"))
			child.Join()
		})
	})
}

// WithOp lifts an op-returning builder into an op that runs under a fresh
// child scope: the child is closed and joined once the built op commits,
// or cancelled with reason "aborted" and joined if it loses a surrounding
// choice (§4.G "with_op(build_op)").
func (s *Scope) WithOp(build func(cs *Scope) op.Op) op.Op {
	return op.Guard(func() op.Op {
		child := s.Child(FailFast)
		f := fiber.Current()
		restore := installCurrent(f, child)
		ev := build(child)
		restore()

		return ev.Wrap(func(vals op.Values) op.Values {
			child.Close(nil)
			child.Join()
			return vals
		}).OnAbort(func() {
			child.Cancel(errors.New("aborted"))
			child.Join()
		})
	})
}
