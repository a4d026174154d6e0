package op

import (
	"math/rand/v2"

	"github.com/fibersched/fibersched/fiber"
)

// Perform compiles ev and attempts to commit it, suspending the calling
// fiber if no leaf is immediately ready (§4.D "Perform semantics"). It must
// be called from inside a fiber. Errors raised by a leaf's try/block/wrap
// are not interpreted here: they propagate as a Go panic, which the fiber
// package's runProtected turns into an uncaught fiber error (§4.D "Failure
// semantics").
func Perform(ev Op) Values {
	f := mustFiber()
	return perform(f, ev)
}

// TryPerform attempts only the non-blocking fast-path probe of ev: if some
// leaf is immediately ready it fires nacks for the losers and returns the
// committed value with ok=true; otherwise it fires nacks for every leaf
// (since none won) and returns ok=false without suspending the fiber.
func TryPerform(ev Op) (Values, bool) {
	mustFiber()
	leaves := Compile(ev)
	idx, vals, ok := probeOnce(leaves)
	if !ok {
		fireNacks(leaves, nil)
		return nil, false
	}
	fireNacks(leaves, leaves[idx].nacks)
	return leaves[idx].wrap(vals), true
}

// probeOnce performs a single random-rotation pass over leaves (§4.D fast
// path), returning the first ready leaf found, if any.
func probeOnce(leaves []Leaf) (idx int, vals Values, ok bool) {
	n := len(leaves)
	if n == 0 {
		return 0, nil, false
	}
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		j := (start + i) % n
		ready, v := leaves[j].Try()
		if ready {
			return j, v, true
		}
	}
	return 0, nil, false
}

func perform(f *fiber.Fiber, ev Op) Values {
	leaves := Compile(ev)
	if len(leaves) == 0 {
		return nil
	}

	if idx, vals, ok := probeOnce(leaves); ok {
		fireNacks(leaves, leaves[idx].nacks)
		return leaves[idx].wrap(vals)
	}

	// Slow path: one Suspension shared by every leaf.
	susp := newSuspension(f, f.Scheduler())
	var winnerNacks []*NackCond
	for i := range leaves {
		nacks := leaves[i].nacks
		baseWrap := leaves[i].wrap
		tagged := func(v Values) Values {
			winnerNacks = nacks
			return baseWrap(v)
		}
		leaves[i].Block(susp, tagged)
	}
	f.Park()

	susp.mu.Lock()
	wrap, values := susp.wrap, susp.values
	susp.mu.Unlock()

	result := wrap(values)
	fireNacks(leaves, winnerNacks)
	susp.runCleanups()
	return result
}
