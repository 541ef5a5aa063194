// Package registry tracks the activity, persistence, and blocking state of
// every worker the coordinator manages.
package registry

import (
	"fmt"

	"github.com/cuemby/ensemble/pkg/tags"
)

// Worker is one worker's state record.
type Worker struct {
	ID          int
	Active      tags.Tag // zero value (tags.Unset) iff idle
	PersisState tags.Tag // zero value iff not persistent
	Blocked     bool
}

// Registry is the fixed-size table of worker records, indexed 1..N (worker 0
// is reserved for the coordinator itself and never appears here).
type Registry struct {
	workers map[int]*Worker
	order   []int
}

// New creates a Registry with n workers, ids 1..n.
func New(n int) *Registry {
	r := &Registry{workers: make(map[int]*Worker, n), order: make([]int, n)}
	for i := 1; i <= n; i++ {
		r.workers[i] = &Worker{ID: i}
		r.order[i-1] = i
	}
	return r
}

// IDs returns worker ids in ascending order.
func (r *Registry) IDs() []int {
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) get(w int) (*Worker, error) {
	rec, ok := r.workers[w]
	if !ok {
		return nil, fmt.Errorf("registry: unknown worker %d", w)
	}
	return rec, nil
}

// Get returns a copy of worker w's record.
func (r *Registry) Get(w int) (Worker, error) {
	rec, err := r.get(w)
	if err != nil {
		return Worker{}, err
	}
	return *rec, nil
}

// IsIdle reports whether worker w holds no outstanding work order.
func (r *Registry) IsIdle(w int) bool {
	rec, err := r.get(w)
	return err == nil && rec.Active == tags.Unset
}

// IsPersistent reports whether worker w has declared itself persistent.
func (r *Registry) IsPersistent(w int) bool {
	rec, err := r.get(w)
	return err == nil && rec.PersisState != tags.Unset
}

// AnyActive reports whether at least one worker holds an outstanding order.
func (r *Registry) AnyActive() bool {
	for _, w := range r.workers {
		if w.Active != tags.Unset {
			return true
		}
	}
	return false
}

// SetActive marks worker w as holding an outstanding order of the given tag.
func (r *Registry) SetActive(w int, tag tags.Tag) error {
	rec, err := r.get(w)
	if err != nil {
		return err
	}
	rec.Active = tag
	return nil
}

// ClearActive marks worker w idle.
func (r *Registry) ClearActive(w int) error {
	rec, err := r.get(w)
	if err != nil {
		return err
	}
	rec.Active = tags.Unset
	return nil
}

// SetPersistent marks worker w as persistent under the given calc tag.
func (r *Registry) SetPersistent(w int, tag tags.Tag) error {
	rec, err := r.get(w)
	if err != nil {
		return err
	}
	rec.PersisState = tag
	return nil
}

// ClearPersistent clears worker w's persistent flag.
func (r *Registry) ClearPersistent(w int) error {
	rec, err := r.get(w)
	if err != nil {
		return err
	}
	rec.PersisState = tags.Unset
	return nil
}

// SetBlocked sets or clears worker w's blocked flag.
func (r *Registry) SetBlocked(w int, value bool) error {
	rec, err := r.get(w)
	if err != nil {
		return err
	}
	rec.Blocked = value
	return nil
}

// CountByState returns the number of idle, busy-sim, busy-gen, and
// persistent-waiting workers, for metrics sampling.
func (r *Registry) CountByState() (idle, busySim, busyGen, persistentWaiting int) {
	for _, w := range r.workers {
		switch {
		case w.Active == tags.Unset && w.PersisState != tags.Unset:
			persistentWaiting++
		case w.Active == tags.Unset:
			idle++
		case w.Active == tags.EvalSim:
			busySim++
		case w.Active == tags.EvalGen:
			busyGen++
		}
	}
	return
}
