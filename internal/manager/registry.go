package manager

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// DefaultCapacity is the default maximum number of registered daemons.
const DefaultCapacity = 100

// Registry is a bounded, insertion-ordered set of daemons keyed by name.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	order    []*Daemon
	byName   map[string]*Daemon
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity, byName: make(map[string]*Daemon)}
}

// Add inserts d. Names must be unique and the registry must have room.
func (r *Registry) Add(d *Daemon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[d.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.name)
	}
	if len(r.order) >= r.capacity {
		return fmt.Errorf("%w: %d daemons", ErrCapacity, r.capacity)
	}
	r.order = append(r.order, d)
	r.byName[d.name] = d
	return nil
}

func (r *Registry) Find(name string) (*Daemon, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Remove deletes the daemon called name. Only inactive daemons can be removed.
func (r *Registry) Remove(name string) (*Daemon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if s := d.State(); s != StateInactive {
		return nil, stateErr(ErrStillActive, name, s)
	}
	delete(r.byName, name)
	r.order = lo.Without(r.order, d)
	return d, nil
}

// List returns the daemons in registration order.
func (r *Registry) List() []*Daemon {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Daemon(nil), r.order...)
}

// Filter returns the daemons currently in state s, in registration order.
func (r *Registry) Filter(s State) []*Daemon {
	return lo.Filter(r.List(), func(d *Daemon, _ int) bool { return d.State() == s })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Capacity() int { return r.capacity }
