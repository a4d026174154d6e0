package scope

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fibersched/fibersched/fiber"
)

// fiberScopes tracks each fiber's current scope. The spec calls for a
// weak-keyed Fiber -> Scope map so garbage collection of a fiber does not
// keep its scope alive; Go has no portable weak map, so this is an
// explicit registration table instead, unregistered at fiber teardown
// (see DESIGN.md Open Question resolution). installCurrent/restoreCurrent
// give the strict save/restore stack discipline §5 "Re-entrancy" requires.
var (
	fiberScopesMu sync.Mutex
	fiberScopes   = map[uuid.UUID]*Scope{}
)

func scopeOf(f *fiber.Fiber) (*Scope, bool) {
	fiberScopesMu.Lock()
	defer fiberScopesMu.Unlock()
	s, ok := fiberScopes[f.ID()]
	return s, ok
}

// ScopeOf returns the scope that was installed as current for f's body, if
// any. Used by the runtime package's unscoped-error pump to route an
// uncaught fiber error to the scope that owned it (§4.G "Unscoped errors").
func ScopeOf(f *fiber.Fiber) (*Scope, bool) { return scopeOf(f) }

func setScopeOf(f *fiber.Fiber, s *Scope) {
	fiberScopesMu.Lock()
	fiberScopes[f.ID()] = s
	fiberScopesMu.Unlock()
}

func unregisterFiber(f *fiber.Fiber) {
	fiberScopesMu.Lock()
	delete(fiberScopes, f.ID())
	fiberScopesMu.Unlock()
}

// installCurrent sets f's current scope to s, returning a restore func that
// must run (typically deferred) once the protected call under s returns.
func installCurrent(f *fiber.Fiber, s *Scope) (restore func()) {
	prev, had := scopeOf(f)
	setScopeOf(f, s)
	return func() {
		if had {
			setScopeOf(f, prev)
		} else {
			unregisterFiber(f)
		}
	}
}

// Current returns the scope associated with the currently running fiber,
// falling back to process-wide default (the root) when a fiber is running
// with no scope installed, and to nil when called outside any fiber.
func Current() *Scope {
	f := fiber.Current()
	if f == nil {
		return nil
	}
	if s, ok := scopeOf(f); ok {
		return s
	}
	return defaultRoot()
}
