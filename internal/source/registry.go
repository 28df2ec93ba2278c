package source

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// Registry maps source names to their adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. Registering the same name twice replaces the
// adapter but keeps its original position.
func (r *Registry) Register(a Adapter) {
	name := a.Name()
	if _, ok := r.adapters[name]; !ok {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q (valid: %v)", name, r.Names())
	}
	return a, nil
}

// Select returns the named adapters, or all adapters when names is empty.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		a, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// NewResolver builds a sector resolver from each adapter's own mapping table.
func NewResolver(adapters ...Adapter) (*taxonomy.Resolver, error) {
	if len(adapters) == 0 {
		return nil, eris.New("source: no adapters for sector resolver")
	}
	tables := make([]*taxonomy.Mapping, 0, len(adapters))
	for _, a := range adapters {
		m := a.SectorMapping()
		if m == nil {
			return nil, eris.Errorf("source: %s has no sector mapping", a.Name())
		}
		if m.Source != a.Name() {
			return nil, eris.Errorf("source: %s carries the sector mapping for %q", a.Name(), m.Source)
		}
		tables = append(tables, m)
	}
	return taxonomy.NewResolver(tables...), nil
}
