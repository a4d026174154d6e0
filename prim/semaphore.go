package prim

import (
	"sync"

	"github.com/fibersched/fibersched/op"
)

type semWaiter struct {
	susp *op.Suspension
	wrap op.WrapFn
}

// Semaphore is a counting semaphore expressed as an op-algebra primitive:
// AcquireOp's try decrements the counter when a permit is free, its block
// enqueues a waiter woken FIFO by Release (§4.E "Channel" generalised to a
// bare counter with no payload).
type Semaphore struct {
	mu      sync.Mutex
	max     int
	held    int
	waiters []*semWaiter
}

// NewSemaphore returns a Semaphore with n permits. n<=0 means unlimited.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{max: n}
}

func (s *Semaphore) popActiveWaiter() *semWaiter {
	for len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		if w.susp.IsWaiting() {
			return w
		}
	}
	return nil
}

// AcquireOp commits (true) once a permit is available.
func (s *Semaphore) AcquireOp() op.Op {
	if s.max <= 0 {
		return op.Always(true)
	}
	return op.NewPrimitive(
		func() (bool, op.Values) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.held < s.max {
				s.held++
				return true, op.Values{true}
			}
			return false, nil
		},
		func(susp *op.Suspension, wrap op.WrapFn) {
			s.mu.Lock()
			s.waiters = append(s.waiters, &semWaiter{susp: susp, wrap: wrap})
			s.mu.Unlock()
		},
	)
}

// Release returns a permit, handing it directly to the oldest active
// waiter if one is parked, otherwise decrementing the held count.
func (s *Semaphore) Release() {
	if s.max <= 0 {
		return
	}
	s.mu.Lock()
	w := s.popActiveWaiter()
	if w == nil {
		s.held--
	}
	s.mu.Unlock()
	if w != nil {
		w.susp.Complete(w.wrap, op.Values{true})
	}
}
