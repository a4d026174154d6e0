package prim

import (
	"sync"

	"github.com/fibersched/fibersched/op"
)

type getEntry[V any] struct {
	susp *op.Suspension
	wrap op.WrapFn
}

type putEntry[V any] struct {
	v    V
	susp *op.Suspension
	wrap op.WrapFn
}

// Channel is a CML-style rendezvous-or-buffered channel: at most one of
// buffer.nonempty / getq.nonempty holds at a time, and putq.nonempty
// implies the buffer is full (or the channel is a rendezvous channel) and
// getq is empty (§3, §4.E).
type Channel[V any] struct {
	mu       sync.Mutex
	buffer   []V
	capacity int
	getq     []*getEntry[V]
	putq     []*putEntry[V]
}

// NewChannel returns a Channel with the given buffer capacity (0 =
// rendezvous).
func NewChannel[V any](capacity int) *Channel[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Channel[V]{capacity: capacity}
}

func (c *Channel[V]) popActiveGet() *getEntry[V] {
	for len(c.getq) > 0 {
		g := c.getq[0]
		c.getq = c.getq[1:]
		if g.susp.IsWaiting() {
			return g
		}
	}
	return nil
}

func (c *Channel[V]) popActivePut() *putEntry[V] {
	for len(c.putq) > 0 {
		p := c.putq[0]
		c.putq = c.putq[1:]
		if p.susp.IsWaiting() {
			return p
		}
	}
	return nil
}

// PutOp enqueues/rendezvous-delivers v (§4.E "put_op").
func (c *Channel[V]) PutOp(v V) op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if g := c.popActiveGet(); g != nil {
				g.susp.Complete(g.wrap, op.Values{v})
				return true, nil
			}
			if len(c.buffer) < c.capacity {
				c.buffer = append(c.buffer, v)
				return true, nil
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			c.mu.Lock()
			c.putq = append(c.putq, &putEntry[V]{v: v, susp: s, wrap: wrap})
			c.mu.Unlock()
		},
	)
}

// GetOp dequeues/rendezvous-receives a value (§4.E "get_op").
func (c *Channel[V]) GetOp() op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			c.mu.Lock()
			defer c.mu.Unlock()
			p := c.popActivePut()
			if p != nil {
				p.susp.Complete(p.wrap, nil)
			}
			if len(c.buffer) > 0 {
				v := c.buffer[0]
				c.buffer = c.buffer[1:]
				if p != nil {
					c.buffer = append(c.buffer, p.v)
				}
				return true, op.Values{v}
			}
			if p != nil {
				return true, op.Values{p.v}
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			c.mu.Lock()
			c.getq = append(c.getq, &getEntry[V]{susp: s, wrap: wrap})
			c.mu.Unlock()
		},
	)
}

// Len reports the number of buffered values (diagnostics/tests only).
func (c *Channel[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// PendingGets reports the number of parked receivers (diagnostics/tests).
func (c *Channel[V]) PendingGets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.getq)
}
