package scope

import (
	"time"

	"github.com/fibersched/fibersched/op"
	"github.com/fibersched/fibersched/prim"
)

// Limiter bounds concurrent tasks within a scope (generalised from the
// teacher's context-based semLimiter to the op algebra: AcquireOp commits
// with ok=true once a permit is held, or ok=false to ask the caller to
// retry after yielding). Scope.Spawn loops on AcquireOp until ok.
type Limiter interface {
	AcquireOp() op.Op
	Release()
}

// chanLimiter is the default, fiber-cooperative backend: a counting
// semaphore built from the op algebra (grounded in prim.Semaphore, itself
// grounded in the teacher's channel-backed semLimiter).
type chanLimiter struct {
	sem *prim.Semaphore
}

func newChanLimiter(n int) *chanLimiter {
	return &chanLimiter{sem: prim.NewSemaphore(n)}
}

func (l *chanLimiter) AcquireOp() op.Op { return l.sem.AcquireOp() }
func (l *chanLimiter) Release()         { l.sem.Release() }

// weightedLimiter is an alternate backend over golang.org/x/sync/semaphore,
// offered for callers who already hold a Weighted elsewhere (e.g. sharing
// one limiter across scope trees and plain goroutines via
// interop/errgroup). It polls: AcquireOp's try attempts a non-blocking
// TryAcquire, and its block arranges a timed wakeup so the fiber retries
// rather than performing a real blocking Acquire, which would stall the
// single-threaded scheduler.
type weightedLimiter struct {
	sem       weighted
	clock     *prim.Clock
	pollEvery time.Duration
}

func newWeightedLimiter(sem weighted, clock *prim.Clock, pollEvery time.Duration) *weightedLimiter {
	if pollEvery <= 0 {
		pollEvery = time.Millisecond
	}
	return &weightedLimiter{sem: sem, clock: clock, pollEvery: pollEvery}
}

func (l *weightedLimiter) AcquireOp() op.Op {
	return op.Guard(func() op.Op {
		if l.sem.TryAcquire(1) {
			return op.Always(true)
		}
		return l.clock.SleepOp(l.pollEvery).Wrap(func(op.Values) op.Values {
			return op.Values{false}
		})
	})
}

func (l *weightedLimiter) Release() { l.sem.Release(1) }
