// Package timer implements the scheduler's timer wheel: a min-heap of
// (absolute_time, task) entries dispatched as the clock advances (§4.A).
package timer

import (
	"container/heap"
	"time"

	"github.com/fibersched/fibersched/sched"
)

type entry struct {
	at   time.Time
	seq  uint64
	task sched.Task
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Handle identifies a queued entry. The wheel does not support cancelling
// individual entries (§4.A); a Handle only lets callers tell entries apart
// in diagnostics.
type Handle struct{ seq uint64 }

// Wheel is a min-heap of timer entries keyed by absolute monotonic time.
// It implements sched.TaskSource once added to a scheduler (prim.NewClock
// does this); its ScheduleTasks simply advances to now.
type Wheel struct {
	h       entryHeap
	seq     uint64
	nowSeen time.Time
}

// New returns an empty Wheel.
func New() *Wheel {
	return &Wheel{h: entryHeap{}}
}

// AddAbsolute inserts a payload to fire once the clock reaches t.
func (w *Wheel) AddAbsolute(t time.Time, payload sched.Task) Handle {
	w.seq++
	e := &entry{at: t, seq: w.seq, task: payload}
	heap.Push(&w.h, e)
	return Handle{seq: w.seq}
}

// AddDelta inserts a payload to fire dt from now.
func (w *Wheel) AddDelta(now time.Time, dt time.Duration, payload sched.Task) Handle {
	return w.AddAbsolute(now.Add(dt), payload)
}

// NextFire reports the earliest pending entry's time, if any.
func (w *Wheel) NextFire() (time.Time, bool) {
	if len(w.h) == 0 {
		return time.Time{}, false
	}
	return w.h[0].at, true
}

// Advance pops and schedules every entry at or before t, then records t as
// the last-observed time. Order among equal-time entries within a single
// Advance call is unspecified (§4.A).
func (w *Wheel) Advance(t time.Time, s *sched.Scheduler) {
	for len(w.h) > 0 && !w.h[0].at.After(t) {
		e := heap.Pop(&w.h).(*entry)
		s.Schedule(e.task)
	}
	w.nowSeen = t
}

// ScheduleTasks implements sched.TaskSource: the wheel is an always-present
// source whose scheduling step is simply advancing to now.
func (w *Wheel) ScheduleTasks(s *sched.Scheduler, now time.Time) {
	w.Advance(now, s)
}

// Len reports the number of pending entries (diagnostics/tests only).
func (w *Wheel) Len() int { return len(w.h) }
