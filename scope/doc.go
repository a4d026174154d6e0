// Package scope provides structured-concurrency primitives atop the fiber
// and op packages: scopes own the fibers they spawn, form a supervision
// tree, and propagate cancellation and errors fail-fast by default,
// reporting outcomes at explicit join boundaries rather than escalating
// errors automatically to parents (§4.G, §5 "Propagation policy").
package scope
