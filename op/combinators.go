package op

// OrElse attempts op's fast path eagerly, at the moment this combined op's
// guard is evaluated; if some leaf is ready it fires nacks for op's losers
// and commits to that value, otherwise it fires nacks for all of op's
// leaves and evaluates fallback. Biased: self is attempted first, fallback
// runs only if no leaf was ready at the moment of probe (§4.D).
func (o Op) OrElse(fallback func() Values) Op {
	return Guard(func() Op {
		leaves := Compile(o)
		idx, vals, ok := probeOnce(leaves)
		if ok {
			fireNacks(leaves, leaves[idx].nacks)
			return Always(leaves[idx].wrap(vals)...)
		}
		fireNacks(leaves, nil)
		return Always(fallback()...)
	})
}

// Bracket acquires a resource, builds an op from it, and guarantees release
// runs exactly once: normally after the op commits (aborted=false) or via
// OnAbort if this subtree loses a choice (aborted=true) (§4.D).
func Bracket(acquire func() any, release func(resource any, aborted bool), use func(resource any) Op) Op {
	return Guard(func() Op {
		r := acquire()
		e := use(r)
		return e.
			Wrap(func(v Values) Values { release(r, false); return v }).
			OnAbort(func() { release(r, true) })
	})
}

// Finally runs cleanup exactly once around self, with aborted indicating
// whether self's arm lost a surrounding choice (§4.D: bracket(||∅, …)).
func (o Op) Finally(cleanup func(aborted bool)) Op {
	return Bracket(
		func() any { return nil },
		func(_ any, aborted bool) { cleanup(aborted) },
		func(any) Op { return o },
	)
}

// Race wraps each op with its index and the eventually-committed values so
// callers can tell which arm won; onWin post-processes (idx, values) into
// the final result.
func Race(ops []Op, onWin func(idx int, values Values) Values) Op {
	arms := make([]Op, len(ops))
	for i, o := range ops {
		idx := i
		arms[i] = o.Wrap(func(v Values) Values { return onWin(idx, v) })
	}
	return Choice(arms...)
}

// FirstReady races ops and returns (winningIndex, values...).
func FirstReady(ops []Op) Op {
	return Race(ops, func(idx int, v Values) Values {
		return append(Values{idx}, v...)
	})
}

// NamedChoice races a tag->op map and returns (winningTag, values...).
func NamedChoice(arms map[string]Op) Op {
	wrapped := make([]Op, 0, len(arms))
	for tag, o := range arms {
		tag := tag
		wrapped = append(wrapped, o.Wrap(func(v Values) Values {
			return append(Values{tag}, v...)
		}))
	}
	return Choice(wrapped...)
}

// BooleanChoice races a against b and returns (true, a's values...) or
// (false, b's values...).
func BooleanChoice(a, b Op) Op {
	return Choice(
		a.Wrap(func(v Values) Values { return append(Values{true}, v...) }),
		b.Wrap(func(v Values) Values { return append(Values{false}, v...) }),
	)
}
