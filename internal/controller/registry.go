package controller

import (
	"sort"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// Controller is the part of a controller the registry and admin views need
type Controller interface {
	ID() string
	Format() sdk.Format
	State() State
	Info() Info
	Dispose()
}

// Info is a point-in-time view of a controller for admin listings
type Info struct {
	ID      string     `json:"id"`
	Format  sdk.Format `json:"format"`
	State   string     `json:"state"`
	Mounted bool       `json:"mounted"`
}

// Factory builds a controller. release must be called once when the
// controller disposes itself so the registry forgets it.
type Factory[C Controller] func(id string, release func()) C

// Registry maps identifiers to live controllers of one format. It is owned
// by the loop and must only be used from it.
type Registry[C Controller] struct {
	format  sdk.Format
	factory Factory[C]
	items   map[string]C
}

// NewRegistry creates an empty registry
func NewRegistry[C Controller](format sdk.Format, factory Factory[C]) *Registry[C] {
	return &Registry[C]{
		format:  format,
		factory: factory,
		items:   make(map[string]C),
	}
}

// Format returns the ad format this registry holds
func (r *Registry[C]) Format() sdk.Format {
	return r.format
}

// Create registers a controller for id. An existing entry wins and is
// returned with created=false.
func (r *Registry[C]) Create(id string) (c C, created bool) {
	return r.CreateWith(id, r.factory)
}

// CreateWith is Create with a per-call factory, for controllers whose
// construction takes call arguments
func (r *Registry[C]) CreateWith(id string, factory Factory[C]) (c C, created bool) {
	if existing, ok := r.items[id]; ok {
		return existing, false
	}
	c = factory(id, func() { r.forget(id, c) })
	r.items[id] = c
	return c, true
}

// Get returns the live controller for id
func (r *Registry[C]) Get(id string) (C, error) {
	c, ok := r.items[id]
	if !ok {
		var zero C
		return zero, ErrNotFound
	}
	return c, nil
}

// Has reports whether id is registered
func (r *Registry[C]) Has(id string) bool {
	_, ok := r.items[id]
	return ok
}

// Remove unregisters id and disposes its controller. It reports whether an
// entry existed.
func (r *Registry[C]) Remove(id string) bool {
	c, ok := r.items[id]
	if !ok {
		return false
	}
	delete(r.items, id)
	c.Dispose()
	return true
}

// Len returns the number of live controllers
func (r *Registry[C]) Len() int {
	return len(r.items)
}

// IDs returns the registered identifiers in sorted order
func (r *Registry[C]) IDs() []string {
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Infos returns admin views of every live controller, sorted by id
func (r *Registry[C]) Infos() []Info {
	ids := r.IDs()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id].Info())
	}
	return out
}

// DisposeAll disposes every controller, used on shutdown
func (r *Registry[C]) DisposeAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

// forget drops id only while it still maps to c
func (r *Registry[C]) forget(id string, c C) {
	if cur, ok := r.items[id]; ok && Controller(cur) == Controller(c) {
		delete(r.items, id)
	}
}
