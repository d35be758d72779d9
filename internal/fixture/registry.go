package fixture

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrFixtureNotFound = errors.New("fixture not found")
	ErrGroupNotFound   = errors.New("group not found")
)

// Registry holds the patched fixtures and named groups.
type Registry struct {
	mu       sync.RWMutex
	fixtures map[string]*Fixture
	groups   map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{
		fixtures: make(map[string]*Fixture),
		groups:   make(map[string]*Group),
	}
}

// AddFixture registers f and its elements. Keys must be unique.
func (r *Registry) AddFixture(f *Fixture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.fixtures[f.Key]; dup {
		return fmt.Errorf("fixture %s: already patched", f.Key)
	}
	r.fixtures[f.Key] = f
	for _, e := range f.Elements() {
		r.fixtures[e.Key] = e
	}
	return nil
}

// AddGroup registers g, replacing any group of the same name.
func (r *Registry) AddGroup(g *Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Name] = g
}

// Fixture resolves a fixture or element key.
func (r *Registry) Fixture(key string) (*Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fixtures[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFixtureNotFound, key)
	}
	return f, nil
}

// Group resolves a group by name.
func (r *Registry) Group(name string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return g, nil
}

// Fixtures returns the top-level fixtures ordered by universe and address.
func (r *Registry) Fixtures() []*Fixture {
	r.mu.RLock()
	out := make([]*Fixture, 0, len(r.fixtures))
	for _, f := range r.fixtures {
		if f.Parent == nil {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Universe != out[j].Universe {
			return out[i].Universe < out[j].Universe
		}
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Groups returns every group ordered by name.
func (r *Registry) Groups() []*Group {
	r.mu.RLock()
	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GroupsContaining returns the names of groups that include the fixture
// with key, directly or through sub-groups or elements.
func (r *Registry) GroupsContaining(key string) []string {
	var names []string
	for _, g := range r.Groups() {
		if g.Contains(key) {
			names = append(names, g.Name)
		}
	}
	return names
}
