// Package op implements the Concurrent-ML-style operation algebra: an
// immutable event AST (prim/choice/guard/with_nack/wrap/abort), compilation
// to a flat leaf list, a non-blocking fast-path probe, and a slow path that
// suspends the calling fiber until exactly one leaf commits (§4.D).
package op

import (
	"fmt"

	"github.com/fibersched/fibersched/fiber"
)

// Values is the payload carried through try/block/wrap. Using []any rather
// than generics keeps the algebra itself untyped, matching the host
// language's dynamically-typed event values; prim wraps it with typed
// convenience constructors.
type Values []any

// WrapFn is a post-commit value transformer.
type WrapFn func(Values) Values

func identity(v Values) Values { return v }

// TryFn probes a leaf without blocking.
type TryFn func() (ready bool, values Values)

// BlockFn arranges for a future event to complete the given Suspension,
// applying wrap to whatever values it eventually captures.
type BlockFn func(s *Suspension, wrap WrapFn)

type kind int

const (
	kindPrim kind = iota
	kindChoice
	kindGuard
	kindWithNack
	kindWrap
	kindAbort
)

// Op is a pure, immutable description of a potentially blocking action. Op
// values are built by the combinators in this package and consumed by
// Compile/Perform; they carry no mutable state of their own.
type Op struct {
	kind kind

	// kindPrim
	try   TryFn
	block BlockFn
	wrap  WrapFn // leaf-local wrap, composed innermost

	// kindChoice
	arms []Op

	// kindGuard
	builder func() Op

	// kindWithNack
	nackBuilder func(nackWaitOp Op) Op

	// kindWrap
	inner *Op
	fn    WrapFn

	// kindAbort
	abortFn func()
}

// NewPrimitive constructs a leaf Op from the try/block contract of §4.D and
// §6. Backends (prim, and future I/O sources) use this to expose readiness
// as ops.
func NewPrimitive(try TryFn, block BlockFn) Op {
	if try == nil {
		panic("op: NewPrimitive requires a non-nil try function")
	}
	if block == nil {
		block = func(*Suspension, WrapFn) {}
	}
	return Op{kind: kindPrim, try: try, block: block}
}

// Choice composes an unordered, non-empty set of arms. Choice operands that
// are themselves Choice nodes are flattened automatically (§3).
func Choice(arms ...Op) Op {
	if len(arms) == 0 {
		panic("op: Choice requires at least one arm")
	}
	flat := make([]Op, 0, len(arms))
	for _, a := range arms {
		if a.kind == kindChoice {
			flat = append(flat, a.arms...)
		} else {
			flat = append(flat, a)
		}
	}
	return Op{kind: kindChoice, arms: flat}
}

// Guard defers evaluation of builder until compile time, re-evaluated once
// per Perform call.
func Guard(builder func() Op) Op {
	return Op{kind: kindGuard, builder: builder}
}

// WithNack exposes to builder an op that becomes ready iff this arm loses
// in an enclosing choice.
func WithNack(builder func(nackWaitOp Op) Op) Op {
	return Op{kind: kindWithNack, nackBuilder: builder}
}

// Wrap composes a post-commit value transformer. Wraps compose in
// declaration order: op.Wrap(f).Wrap(g) applies f first, then g.
func (o Op) Wrap(fn WrapFn) Op {
	inner := o
	return Op{kind: kindWrap, inner: &inner, fn: fn}
}

// OnAbort attaches a nack fired as a no-op-observable cleanup hook (rather
// than an event) iff this subtree participates in a choice and loses.
func (o Op) OnAbort(fn func()) Op {
	inner := o
	return Op{kind: kindAbort, inner: &inner, abortFn: fn}
}

// Always is a leaf that is immediately ready with the given values; its
// block must never run because the fast-path probe always finds it ready.
func Always(values ...any) Op {
	vs := Values(values)
	return Op{kind: kindPrim,
		try: func() (bool, Values) { return true, vs },
		block: func(*Suspension, WrapFn) {
			panic("op: Always leaf must never block")
		},
	}
}

// Never is a leaf that is never ready on its own; it exists to occupy an
// arm of a choice (e.g. inside WithNack) until some other arm wins.
func Never() Op {
	return Op{kind: kindPrim,
		try:   func() (bool, Values) { return false, nil },
		block: func(*Suspension, WrapFn) {},
	}
}

func (o Op) String() string {
	switch o.kind {
	case kindPrim:
		return "prim"
	case kindChoice:
		return fmt.Sprintf("choice(%d arms)", len(o.arms))
	case kindGuard:
		return "guard"
	case kindWithNack:
		return "with_nack"
	case kindWrap:
		return "wrap"
	case kindAbort:
		return "abort"
	default:
		return "op"
	}
}

// mustFiber returns the currently running fiber or panics: Perform is a
// contract violation outside a fiber (§4.D invariants, §7 kind 1).
func mustFiber() *fiber.Fiber {
	f := fiber.Current()
	if f == nil {
		panic("op: Perform called outside a fiber")
	}
	return f
}
