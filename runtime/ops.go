package runtime

import "github.com/fibersched/fibersched/op"

// Re-exported so callers assembling op trees alongside Spawn/Perform don't
// need a second import for the op package (§6 "runtime.Run/Spawn/Perform/
// TryPerform/Now plus the op combinators, all re-exported from runtime").

// Op and Values alias the op package's core types.
type (
	Op     = op.Op
	Values = op.Values
	WrapFn = op.WrapFn
)

var (
	Always        = op.Always
	Never         = op.Never
	Guard         = op.Guard
	Choice        = op.Choice
	WithNack      = op.WithNack
	NewPrimitive  = op.NewPrimitive
	Bracket       = op.Bracket
	Race          = op.Race
	FirstReady    = op.FirstReady
	NamedChoice   = op.NamedChoice
	BooleanChoice = op.BooleanChoice
)
