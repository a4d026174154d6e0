package otel

import (
	"time"

	"github.com/fibersched/fibersched/scope"
)

// Nop is a no-op implementation of the scope.Observer interface.
// It serves as a placeholder for an OpenTelemetry-backed observer without adding dependencies.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

// ScopeCreated is a no-op.
func (*Nop) ScopeCreated(*scope.Scope) {}

// ScopeCancelled is a no-op.
func (*Nop) ScopeCancelled(*scope.Scope, error) {}

// ScopeJoined is a no-op.
func (*Nop) ScopeJoined(*scope.Scope, time.Duration) {}

// TaskStarted is a no-op.
func (*Nop) TaskStarted(*scope.Scope) {}

// TaskFinished is a no-op.
func (*Nop) TaskFinished(*scope.Scope, time.Duration, error, bool) {}
