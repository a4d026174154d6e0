package scope

import "github.com/google/uuid"

// Status is a scope's terminal classification (§3 "Status"). Transitions
// are monotone: Running -> {OK, Failed, Cancelled}. Failure precedes
// cancellation when both hold.
type Status int

const (
	StatusRunning Status = iota
	StatusOK
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ChildReport is one entry of a ScopeReport's children (§3 "ScopeReport").
type ChildReport struct {
	ID      uuid.UUID
	Status  Status
	Primary error
	Report  ScopeReport
}

// ScopeReport is the structured outcome a join boundary returns (§3
// "ScopeReport", §4.G "Boundaries").
type ScopeReport struct {
	ID          uuid.UUID
	ExtraErrors []error
	Children    []ChildReport
}

// JoinOutcome is the terminal record a scope's join worker stores (§3
// "Join state").
type JoinOutcome struct {
	Status  Status
	Primary error
	Report  ScopeReport
}
