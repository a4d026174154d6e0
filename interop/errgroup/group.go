// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup's
// Go/Wait surface on top of scope.Scope, for callers migrating incrementally
// off bare goroutines and onto the structured-concurrency tree without
// learning scope's full API up front.
package errgroup

import "github.com/fibersched/fibersched/scope"

// Group is an errgroup-like wrapper over a FailFast scope.Scope. Unlike
// x/sync/errgroup it carries no context.Context: cancellation is observed
// by spawned tasks performing an op under the group's scope (scope.Perform/
// scope.TryOp), not by selecting on a Done channel.
type Group struct {
	s *scope.Scope
}

// WithScope creates a Group as a FailFast child of parent. WithScope and Go
// may be called from anywhere; Wait must be called from inside a fiber.
func WithScope(parent *scope.Scope, optFns ...scope.Option) *Group {
	return &Group{s: parent.Child(scope.FailFast, optFns...)}
}

// Scope returns the group's underlying scope, for callers that want to
// perform ops against it directly (the errgroup-ctx.Done() analogue).
func (g *Group) Scope() *scope.Scope { return g.s }

// Go starts f as a new task in the group. A nil f is a no-op, matching
// x/sync/errgroup.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	g.s.Spawn(func(*scope.Scope) error { return f() })
}

// Wait blocks until every Go'd task has returned, then returns the first
// non-nil error recorded (FailFast semantics). A group cancelled with no
// task fault (e.g. via WithTimeout/WithDeadline, or Scope().Cancel) surfaces
// its cancellation reason here too, since x/sync/errgroup callers expect
// Wait alone to report why the group stopped.
func (g *Group) Wait() error {
	outcome := g.s.Join()
	if outcome.Primary != nil {
		return outcome.Primary
	}
	if outcome.Status == scope.StatusCancelled {
		return g.s.CancelReason()
	}
	return nil
}
