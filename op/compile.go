package op

// Leaf is a compiled primitive: the flat unit Perform probes and blocks on.
type Leaf struct {
	Try   TryFn
	Block BlockFn
	wrap  WrapFn
	nacks []*NackCond
}

// Compile walks the Op AST and produces its flat leaf list (§4.D
// "Compilation"). Guard builders are evaluated exactly once per Compile
// call, matching "guards are re-evaluated on every perform."
func Compile(ev Op) []Leaf {
	var leaves []Leaf
	compile(ev, identity, nil, &leaves)
	return leaves
}

func compile(ev Op, outer WrapFn, nacks []*NackCond, leaves *[]Leaf) {
	switch ev.kind {
	case kindChoice:
		for _, a := range ev.arms {
			compile(a, outer, nacks, leaves)
		}

	case kindGuard:
		inner := ev.builder()
		compile(inner, outer, nacks, leaves)

	case kindWithNack:
		c := newNackCond(nil)
		nackOp := c.waitOp()
		inner := ev.nackBuilder(nackOp)
		compile(inner, outer, append(nacks, c), leaves)

	case kindWrap:
		fn := ev.fn
		newOuter := func(v Values) Values { return outer(fn(v)) }
		compile(*ev.inner, newOuter, nacks, leaves)

	case kindAbort:
		c := newNackCond(ev.abortFn)
		compile(*ev.inner, outer, append(nacks, c), leaves)

	case kindPrim:
		leafWrap := ev.wrap
		composed := func(v Values) Values {
			if leafWrap != nil {
				v = leafWrap(v)
			}
			return outer(v)
		}
		nacksCopy := append([]*NackCond(nil), nacks...)
		*leaves = append(*leaves, Leaf{Try: ev.try, Block: ev.block, wrap: composed, nacks: nacksCopy})

	default:
		panic("op: compile: unknown kind")
	}
}

// fireNacks implements the nack firing rule (§4.D): given the winner's nack
// set, every cond reachable from any leaf (winner included) that is not in
// the winner set and not already signalled this firing is signalled,
// walking each leaf's own nacks innermost to outermost. Because a winning
// leaf's own nacks are by definition a subset of winnerNacks, scanning
// every leaf (rather than excluding the winner) already yields "for each
// non-winner leaf" for free.
func fireNacks(leaves []Leaf, winnerNacks []*NackCond) {
	winnerSet := make(map[*NackCond]bool, len(winnerNacks))
	for _, c := range winnerNacks {
		winnerSet[c] = true
	}
	signalled := make(map[*NackCond]bool)
	for _, leaf := range leaves {
		for i := len(leaf.nacks) - 1; i >= 0; i-- {
			c := leaf.nacks[i]
			if winnerSet[c] || signalled[c] {
				continue
			}
			signalled[c] = true
			c.signal()
		}
	}
}
