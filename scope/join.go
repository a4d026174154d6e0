package scope

import (
	"fmt"

	"github.com/fibersched/fibersched/fiber"
	"github.com/fibersched/fibersched/op"
)

// JoinOp is a prim that is ready once the scope's join outcome is set; it
// triggers the join worker on first block (§4.G "join_op()").
func (s *Scope) JoinOp() op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			s.mu.Lock()
			outcome := s.joinOutcome
			s.mu.Unlock()
			if outcome != nil {
				return true, op.Values{*outcome}
			}
			return false, nil
		},
		func(susp *op.Suspension, wrap op.WrapFn) {
			s.startJoinWorker()
			s.joinOS.AddWaiter(func() {
				s.mu.Lock()
				outcome := s.joinOutcome
				s.mu.Unlock()
				susp.Complete(wrap, op.Values{*outcome})
			})
		},
	)
}

// Join blocks the calling fiber until s's join worker has run, returning
// its outcome.
func (s *Scope) Join() JoinOutcome {
	vals := op.Perform(s.JoinOp())
	return vals[0].(JoinOutcome)
}

// startJoinWorker spawns the (idempotent) non-interruptible join worker
// described by §4.G "Join": it performs its internal synchronisation raw
// (via the bare op algebra, never through s.Perform/s.TryOp) so that the
// scope's own cancellation cannot interrupt its own join.
func (s *Scope) startJoinWorker() {
	s.mu.Lock()
	if s.joinStarted {
		s.mu.Unlock()
		return
	}
	s.joinStarted = true
	s.mu.Unlock()

	label := fmt.Sprintf("scope-join:%s", s.id)
	fiber.Spawn(s.sched, label, func(f *fiber.Fiber) (any, error) {
		s.Close(fmt.Errorf("scope: joining"))

		children := s.snapshotChildren()
		op.Perform(s.wg.WaitOp())

		childReports := make([]ChildReport, 0, len(children))
		for _, c := range children {
			outcome := c.Join()
			childReports = append(childReports, ChildReport{
				ID:      c.id,
				Status:  outcome.Status,
				Primary: outcome.Primary,
				Report:  outcome.Report,
			})
			s.detachChild(c.id)
		}

		status, primary := s.finalStatus()
		aborted := status != StatusOK

		s.mu.Lock()
		finalizers := append([]func(bool, Status, error) error{}, s.finalizers...)
		s.mu.Unlock()

		for i := len(finalizers) - 1; i >= 0; i-- {
			runFinalizer(s, finalizers[i], aborted, status, primary)
		}

		status, primary = s.finalStatus()
		s.mu.Lock()
		extra := append([]error(nil), s.extraErrors...)
		s.mu.Unlock()

		outcome := JoinOutcome{
			Status:  status,
			Primary: primary,
			Report:  ScopeReport{ID: s.id, ExtraErrors: extra, Children: childReports},
		}
		s.mu.Lock()
		s.joinOutcome = &outcome
		s.mu.Unlock()
		s.joinOS.Signal()

		if s.parent != nil {
			s.parent.detachChild(s.id)
		}
		return nil, nil
	})
}

// finalStatus resolves the scope's still-Running status to OK (join
// reaching this point with no recorded fault/cancellation means success).
func (s *Scope) finalStatus() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.status = StatusOK
	}
	return s.status, s.primary
}

func runFinalizer(s *Scope, fn func(aborted bool, status Status, primary error) error, aborted bool, status Status, primary error) {
	defer func() {
		if r := recover(); r != nil {
			s.recordFault(fmt.Errorf("finalizer panic: %v", r))
		}
	}()
	if err := fn(aborted, status, primary); err != nil {
		s.recordFault(err)
	}
}
