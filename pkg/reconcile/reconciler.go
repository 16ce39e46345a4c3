// Package reconcile keeps the local task collection consistent with the server.
//
// A Reconciler owns the collection. Change events from the push channel and
// full fetches from the REST layer are folded into it one at a time, and the
// renderer is told about every mutation through a single callback.
package reconcile

import (
	"sync"

	"github.com/astromechza/tasklive/pkg/tasks"
)

// ChangeFunc receives a copy of the collection after each mutation.
// It may read from the Reconciler but must not mutate it.
type ChangeFunc func(snapshot []tasks.Task)

type Reconciler struct {
	mu    sync.RWMutex
	items []tasks.Task
	index map[int64]int
	seq   uint64

	// notifyMu is taken before mu is released so callbacks run in mutation order.
	notifyMu sync.Mutex
	onChange ChangeFunc
}

func New(onChange ChangeFunc) *Reconciler {
	return &Reconciler{
		index:    make(map[int64]int),
		onChange: onChange,
	}
}

// ReplaceAll swaps in a whole new collection. If the input repeats an id, the
// last value wins and keeps the position of the first occurrence.
func (r *Reconciler) ReplaceAll(ts []tasks.Task) {
	r.mu.Lock()
	r.replaceLocked(ts)
	r.commitLocked()
}

// ReplaceAllAt behaves like ReplaceAll, but only if no mutation happened since
// Seq returned seq. It reports whether the replacement was applied.
func (r *Reconciler) ReplaceAllAt(seq uint64, ts []tasks.Task) bool {
	r.mu.Lock()
	if r.seq != seq {
		r.mu.Unlock()
		return false
	}
	r.replaceLocked(ts)
	r.commitLocked()
	return true
}

// Apply folds a single change event into the collection.
func (r *Reconciler) Apply(ev tasks.ChangeEvent) {
	r.mu.Lock()
	switch e := ev.(type) {
	case tasks.Created:
		r.upsertLocked(e.Task)
	case tasks.Updated:
		// an update for an unknown id is inserted rather than dropped
		r.upsertLocked(e.Task)
	case tasks.Deleted:
		r.removeLocked(e.ID)
	}
	r.commitLocked()
}

// Snapshot returns a copy of the current collection.
func (r *Reconciler) Snapshot() []tasks.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Reconciler) Get(id int64) (tasks.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return tasks.Task{}, false
	}
	return r.items[i], true
}

func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Seq returns the mutation counter. It advances on every Apply and every
// successful replace, including ones that leave the collection unchanged.
func (r *Reconciler) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

func (r *Reconciler) replaceLocked(ts []tasks.Task) {
	r.items = make([]tasks.Task, 0, len(ts))
	r.index = make(map[int64]int, len(ts))
	for _, t := range ts {
		r.upsertLocked(t)
	}
}

func (r *Reconciler) upsertLocked(t tasks.Task) {
	if i, ok := r.index[t.ID]; ok {
		r.items[i] = t
		return
	}
	r.index[t.ID] = len(r.items)
	r.items = append(r.items, t)
}

func (r *Reconciler) removeLocked(id int64) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.items); j++ {
		r.index[r.items[j].ID] = j
	}
}

func (r *Reconciler) snapshotLocked() []tasks.Task {
	out := make([]tasks.Task, len(r.items))
	copy(out, r.items)
	return out
}

// commitLocked bumps the sequence, releases mu and runs the change callback.
func (r *Reconciler) commitLocked() {
	r.seq++
	if r.onChange == nil {
		r.mu.Unlock()
		return
	}
	snap := r.snapshotLocked()
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	r.onChange(snap)
}
