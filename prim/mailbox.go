package prim

import (
	"sync"

	"github.com/fibersched/fibersched/op"
)

type mbGetEntry[V any] struct {
	susp *op.Suspension
	wrap op.WrapFn
}

type mbPutEntry[V any] struct {
	v    V
	susp *op.Suspension
	wrap op.WrapFn
}

// Mailbox is a closeable MPSC channel (§3, §4.E). Close is idempotent and
// records the first non-nil reason. Closing the last counted sender closes
// the mailbox. nil payloads are a programming error, but Go generics have
// no universal nil for value types, so Send/Recv report the
// closed/drained condition with an idiomatic (value, ok) pair instead of
// the spec's "nil sentinel" convention — see DESIGN.md.
type Mailbox[V any] struct {
	mu       sync.Mutex
	capacity int
	buffer   []V
	getq     []*mbGetEntry[V]
	putq     []*mbPutEntry[V]
	closed   bool
	reason   error
	senders  uint32
}

// NewMailbox returns an open Mailbox with the given buffer capacity.
func NewMailbox[V any](capacity int) *Mailbox[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Mailbox[V]{capacity: capacity}
}

func (m *Mailbox[V]) popActiveGet() *mbGetEntry[V] {
	for len(m.getq) > 0 {
		g := m.getq[0]
		m.getq = m.getq[1:]
		if g.susp.IsWaiting() {
			return g
		}
	}
	return nil
}

func (m *Mailbox[V]) popActivePut() *mbPutEntry[V] {
	for len(m.putq) > 0 {
		p := m.putq[0]
		m.putq = m.putq[1:]
		if p.susp.IsWaiting() {
			return p
		}
	}
	return nil
}

// AddSender increments the sender count (MPSC registration).
func (m *Mailbox[V]) AddSender() {
	m.mu.Lock()
	m.senders++
	m.mu.Unlock()
}

// ReleaseSender decrements the sender count, closing the mailbox if it was
// the last one.
func (m *Mailbox[V]) ReleaseSender(reason error) {
	m.mu.Lock()
	m.senders--
	last := m.senders == 0
	m.mu.Unlock()
	if last {
		m.Close(reason)
	}
}

// Closed reports whether Close has run.
func (m *Mailbox[V]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reason returns the first close reason, if any.
func (m *Mailbox[V]) Reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Close wakes all parked receivers (draining buffered values first, then
// completing with ok=false) and all parked senders (rejected). Idempotent.
func (m *Mailbox[V]) Close(reason error) {
	m.mu.Lock()
	if reason != nil && m.reason == nil {
		m.reason = reason
	}
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	getq := m.getq
	putq := m.putq
	m.getq, m.putq = nil, nil
	m.mu.Unlock()

	for _, g := range getq {
		if !g.susp.IsWaiting() {
			continue
		}
		m.mu.Lock()
		var v V
		ok := false
		if len(m.buffer) > 0 {
			v = m.buffer[0]
			m.buffer = m.buffer[1:]
			ok = true
		}
		m.mu.Unlock()
		g.susp.Complete(g.wrap, op.Values{v, ok})
	}
	for _, p := range putq {
		if !p.susp.IsWaiting() {
			continue
		}
		p.susp.Complete(p.wrap, op.Values{false})
	}
}

// SendOp delivers v, or rejects (ok=false) once the mailbox is closed.
func (m *Mailbox[V]) SendOp(v V) op.Op {
	if any(v) == nil {
		panic("prim: Mailbox.Send: nil payload")
	}
	return op.NewPrimitive(
		func() (bool, op.Values) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.closed {
				return true, op.Values{false}
			}
			if g := m.popActiveGet(); g != nil {
				g.susp.Complete(g.wrap, op.Values{v, true})
				return true, op.Values{true}
			}
			if len(m.buffer) < m.capacity {
				m.buffer = append(m.buffer, v)
				return true, op.Values{true}
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				s.Complete(wrap, op.Values{false})
				return
			}
			m.putq = append(m.putq, &mbPutEntry[V]{v: v, susp: s, wrap: wrap})
			m.mu.Unlock()
		},
	)
}

// RecvOp receives a value, or (zeroValue, false) once closed and drained.
func (m *Mailbox[V]) RecvOp() op.Op {
	return op.NewPrimitive(
		func() (bool, op.Values) {
			m.mu.Lock()
			defer m.mu.Unlock()
			p := m.popActivePut()
			if p != nil {
				p.susp.Complete(p.wrap, op.Values{true})
			}
			if len(m.buffer) > 0 {
				v := m.buffer[0]
				m.buffer = m.buffer[1:]
				if p != nil {
					m.buffer = append(m.buffer, p.v)
				}
				return true, op.Values{v, true}
			}
			if p != nil {
				return true, op.Values{p.v, true}
			}
			if m.closed {
				var zero V
				return true, op.Values{zero, false}
			}
			return false, nil
		},
		func(s *op.Suspension, wrap op.WrapFn) {
			m.mu.Lock()
			if m.closed && len(m.buffer) == 0 {
				m.mu.Unlock()
				var zero V
				s.Complete(wrap, op.Values{zero, false})
				return
			}
			m.getq = append(m.getq, &mbGetEntry[V]{susp: s, wrap: wrap})
			m.mu.Unlock()
		},
	)
}
