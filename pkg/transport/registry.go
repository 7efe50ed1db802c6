package transport

import (
	"fmt"
)

// Registry is an ordered, read-only set of transport descriptors.
//
// A Registry is built once by NewRegistry and never mutated afterwards, so
// lookups from any number of goroutines need no locking.
type Registry struct {
	descs    []Descriptor
	byFamily map[Family]int
}

// NewRegistry builds a registry from descs, in order. It fails on a zero
// family, a missing factory or a family registered twice.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descs:    make([]Descriptor, 0, len(descs)),
		byFamily: make(map[Family]int, len(descs)),
	}
	for _, d := range descs {
		if d.Family == 0 {
			return nil, fmt.Errorf("transport descriptor %q: family must be non-zero", d.Name)
		}
		if d.New == nil {
			return nil, fmt.Errorf("transport descriptor %q: nil factory", d.Name)
		}
		if _, dup := r.byFamily[d.Family]; dup {
			return nil, fmt.Errorf("transport family %s registered twice", d.Family)
		}
		r.byFamily[d.Family] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered for family.
func (r *Registry) Lookup(family Family) (Descriptor, bool) {
	i, ok := r.byFamily[family]
	if !ok {
		return Descriptor{}, false
	}
	return r.descs[i], true
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	return out
}

// Open creates a new instance of the carrier registered for family.
func (r *Registry) Open(family Family, opts Options) (Transport, error) {
	d, ok := r.Lookup(family)
	if !ok {
		return nil, Errorf("open", CodeInvalidParameter, "no transport registered for family %s (%d)", family, uint8(family))
	}
	return d.New(opts.WithDefaults())
}
