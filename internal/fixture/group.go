package fixture

import (
	"slices"
)

// Meta carries per-member adjustments used when position values are
// distributed across a group.
type Meta struct {
	PanOffset       int
	TiltOffset      int
	SymmetricInvert bool
	Tags            []string
}

// Member is one entry of a group: a fixture (or element) or a nested group.
// Index and Position are assigned by the owning group and are never edited
// in place; operations that change the member list build a new group.
type Member struct {
	Fixture  *Fixture
	Group    *Group
	Index    int
	Position float64 // 0..1 across the group
	Meta     Meta
}

// Key returns the fixture key or nested group name.
func (m Member) Key() string {
	if m.Group != nil {
		return m.Group.Name
	}
	if m.Fixture != nil {
		return m.Fixture.Key
	}
	return ""
}

// HasTag reports whether the member carries tag.
func (m Member) HasTag(tag string) bool {
	return slices.Contains(m.Meta.Tags, tag)
}

// FixtureMember is a convenience constructor for a plain fixture member.
func FixtureMember(f *Fixture) Member {
	return Member{Fixture: f}
}

// GroupMember is a convenience constructor for a nested group member.
func GroupMember(g *Group) Member {
	return Member{Group: g}
}

// Group is an ordered, immutable set of members.
type Group struct {
	Name    string
	members []Member
}

// NewGroup builds a group, assigning indexes and normalised positions.
func NewGroup(name string, members ...Member) *Group {
	return &Group{Name: name, members: reindex(members)}
}

func reindex(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	for i := range out {
		out[i].Index = i
		out[i].Position = NormalizedPosition(i, len(out))
	}
	return out
}

// NormalizedPosition maps index i of n onto 0..1; a lone member sits at 0.5.
func NormalizedPosition(i, n int) float64 {
	if n <= 1 {
		return 0.5
	}
	return float64(i) / float64(n-1)
}

// Members returns a copy of the direct members.
func (g *Group) Members() []Member {
	return slices.Clone(g.members)
}

// Len returns the number of direct members.
func (g *Group) Len() int {
	return len(g.members)
}

// Flatten expands nested groups depth-first into fixture members, reindexed
// 0..N-1. Offsets from enclosing members are added to the leaf's own, and
// the invert flags combine. A group nested inside itself is expanded once.
func (g *Group) Flatten() []Member {
	var out []Member
	g.flatten(Meta{}, map[*Group]bool{}, &out)
	return reindex(out)
}

func (g *Group) flatten(outer Meta, seen map[*Group]bool, out *[]Member) {
	if seen[g] {
		return
	}
	seen[g] = true
	defer delete(seen, g)

	for _, m := range g.members {
		meta := Meta{
			PanOffset:       outer.PanOffset + m.Meta.PanOffset,
			TiltOffset:      outer.TiltOffset + m.Meta.TiltOffset,
			SymmetricInvert: outer.SymmetricInvert != m.Meta.SymmetricInvert,
			Tags:            append(slices.Clone(outer.Tags), m.Meta.Tags...),
		}
		switch {
		case m.Group != nil:
			m.Group.flatten(meta, seen, out)
		case m.Fixture != nil:
			*out = append(*out, Member{Fixture: m.Fixture, Meta: meta})
		}
	}
}

// Fixtures returns the flattened fixtures in order.
func (g *Group) Fixtures() []*Fixture {
	flat := g.Flatten()
	out := make([]*Fixture, len(flat))
	for i, m := range flat {
		out[i] = m.Fixture
	}
	return out
}

// Contains reports whether the fixture with key is in the group, directly,
// through a nested group, or as an element of a member fixture. An element
// key is also contained when its parent fixture is a member.
func (g *Group) Contains(key string) bool {
	for _, m := range g.Flatten() {
		f := m.Fixture
		if f.Key == key {
			return true
		}
		for _, e := range f.Elements() {
			if e.Key == key {
				return true
			}
		}
		if f.Parent != nil && f.Parent.Key == key {
			return true
		}
	}
	return false
}

// HasComposite reports whether any flattened member has sub-elements.
func (g *Group) HasComposite() bool {
	for _, m := range g.Flatten() {
		if m.Fixture.IsComposite() {
			return true
		}
	}
	return false
}

// Filter returns a new flattened group of the members keep accepts.
func (g *Group) Filter(name string, keep func(Member) bool) *Group {
	var out []Member
	for _, m := range g.Flatten() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return NewGroup(name, out...)
}

// WithTag returns a new group of the flattened members carrying tag.
func (g *Group) WithTag(tag string) *Group {
	return g.Filter(g.Name+"#"+tag, func(m Member) bool { return m.HasTag(tag) })
}

// Reverse returns a new group with the flattened members in reverse order.
func (g *Group) Reverse() *Group {
	flat := g.Flatten()
	slices.Reverse(flat)
	return NewGroup(g.Name+"~rev", flat...)
}

// Subset returns a new group of flattened members [from, to), clamped.
func (g *Group) Subset(from, to int) *Group {
	flat := g.Flatten()
	from = max(0, min(from, len(flat)))
	to = max(from, min(to, len(flat)))
	return NewGroup(g.Name+"~sub", flat[from:to]...)
}
