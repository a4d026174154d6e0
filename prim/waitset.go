package prim

import "sync"

// WaitSet is a keyed registry of wake-up callbacks, intended for a future
// fd-poller backend that must notify all waiters on a given key (e.g. a
// file descriptor becoming readable) without itself depending on op/fiber
// internals (§6). Unexercised by the current in-process primitives, which
// use the lazy pop_active convention instead, but kept as the documented
// extension point the spec calls out.
type WaitSet struct {
	mu   sync.Mutex
	seq  uint64
	byID map[uint64]waitSetEntry
}

type waitSetEntry struct {
	key string
	fn  func()
}

// NewWaitSet returns an empty WaitSet.
func NewWaitSet() *WaitSet {
	return &WaitSet{byID: make(map[uint64]waitSetEntry)}
}

// Add registers fn against key. The returned unlink removes the
// registration; calling it after the waiter has already fired is a no-op.
func (w *WaitSet) Add(key string, fn func()) (unlink func()) {
	w.mu.Lock()
	w.seq++
	id := w.seq
	w.byID[id] = waitSetEntry{key: key, fn: fn}
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.byID, id)
		w.mu.Unlock()
	}
}

// NotifyOne fires and unregisters a single waiter registered under key, if
// any. Reports whether one was found.
func (w *WaitSet) NotifyOne(key string) bool {
	w.mu.Lock()
	var id uint64
	var entry waitSetEntry
	found := false
	for i, e := range w.byID {
		if e.key == key {
			id, entry, found = i, e, true
			break
		}
	}
	if found {
		delete(w.byID, id)
	}
	w.mu.Unlock()
	if found {
		entry.fn()
	}
	return found
}

// NotifyAll fires and unregisters every waiter registered under key.
func (w *WaitSet) NotifyAll(key string) {
	w.mu.Lock()
	var fns []func()
	for id, e := range w.byID {
		if e.key == key {
			fns = append(fns, e.fn)
			delete(w.byID, id)
		}
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Len reports the number of live registrations (diagnostics/tests only).
func (w *WaitSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID)
}
