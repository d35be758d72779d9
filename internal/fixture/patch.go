package fixture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatchFile is the YAML layout for fixture types, the patch and groups.
type PatchFile struct {
	Types    map[string]TypeSpec `yaml:"types"`
	Fixtures []FixtureSpec       `yaml:"fixtures"`
	Groups   []GroupSpec         `yaml:"groups"`
}

type TypeSpec struct {
	Channels []string                    `yaml:"channels"` // e.g. [dimmer, red, green, blue]
	Settings map[string]map[string]uint8 `yaml:"settings,omitempty"`
	Heads    *HeadSpec                   `yaml:"heads,omitempty"`
}

type HeadSpec struct {
	Type  string `yaml:"type"`
	Count int    `yaml:"count"`
}

type FixtureSpec struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name,omitempty"`
	Type     string `yaml:"type"`
	Universe int    `yaml:"universe"`
	Address  int    `yaml:"address"` // 1-based DMX start address
}

type GroupSpec struct {
	Name    string       `yaml:"name"`
	Members []MemberSpec `yaml:"members"`
}

// MemberSpec is either a bare fixture key or a mapping with metadata.
type MemberSpec struct {
	Fixture    string   `yaml:"fixture,omitempty"`
	Group      string   `yaml:"group,omitempty"`
	PanOffset  int      `yaml:"pan_offset,omitempty"`
	TiltOffset int      `yaml:"tilt_offset,omitempty"`
	Invert     bool     `yaml:"invert,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
}

func (m *MemberSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		m.Fixture = n.Value
		return nil
	}
	type plain MemberSpec
	return n.Decode((*plain)(m))
}

// ParsePatch decodes a patch document.
func ParsePatch(data []byte) (*PatchFile, error) {
	var p PatchFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	return &p, nil
}

// LoadPatch reads and builds a registry from a YAML file.
func LoadPatch(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	p, err := ParsePatch(data)
	if err != nil {
		return nil, err
	}
	return p.Build()
}

// Build resolves types, patches fixtures and assembles groups.
func (p *PatchFile) Build() (*Registry, error) {
	types := make(map[string]*Type, len(p.Types))
	var resolve func(name string, visiting map[string]bool) (*Type, error)
	resolve = func(name string, visiting map[string]bool) (*Type, error) {
		if t, ok := types[name]; ok {
			return t, nil
		}
		spec, ok := p.Types[name]
		if !ok {
			return nil, fmt.Errorf("unknown fixture type %q", name)
		}
		if visiting[name] {
			return nil, fmt.Errorf("fixture type %q contains itself", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		var opts []TypeOption
		for setting, options := range spec.Settings {
			opts = append(opts, WithSetting(setting, options))
		}
		if spec.Heads != nil {
			head, err := resolve(spec.Heads.Type, visiting)
			if err != nil {
				return nil, fmt.Errorf("fixture type %q heads: %w", name, err)
			}
			opts = append(opts, WithHeads(head, spec.Heads.Count))
		}
		t, err := NewType(name, spec.Channels, opts...)
		if err != nil {
			return nil, err
		}
		types[name] = t
		return t, nil
	}

	r := NewRegistry()
	for _, fs := range p.Fixtures {
		t, err := resolve(fs.Type, map[string]bool{})
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", fs.Key, err)
		}
		f, err := New(fs.Key, t, fs.Universe, fs.Address)
		if err != nil {
			return nil, err
		}
		if fs.Name != "" {
			f.Name = fs.Name
		}
		if err := r.AddFixture(f); err != nil {
			return nil, err
		}
	}

	specs := make(map[string]GroupSpec, len(p.Groups))
	for _, gs := range p.Groups {
		specs[gs.Name] = gs
	}
	built := make(map[string]*Group, len(p.Groups))
	var group func(name string, visiting map[string]bool) (*Group, error)
	group = func(name string, visiting map[string]bool) (*Group, error) {
		if g, ok := built[name]; ok {
			return g, nil
		}
		gs, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		if visiting[name] {
			return nil, fmt.Errorf("group %q contains itself", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		members := make([]Member, 0, len(gs.Members))
		for _, ms := range gs.Members {
			m := Member{Meta: Meta{
				PanOffset:       ms.PanOffset,
				TiltOffset:      ms.TiltOffset,
				SymmetricInvert: ms.Invert,
				Tags:            ms.Tags,
			}}
			switch {
			case ms.Group != "":
				sub, err := group(ms.Group, visiting)
				if err != nil {
					return nil, fmt.Errorf("group %s: %w", name, err)
				}
				m.Group = sub
			case ms.Fixture != "":
				f, err := r.Fixture(ms.Fixture)
				if err != nil {
					return nil, fmt.Errorf("group %s: %w", name, err)
				}
				m.Fixture = f
			default:
				return nil, fmt.Errorf("group %s: member needs a fixture or group", name)
			}
			members = append(members, m)
		}
		g := NewGroup(name, members...)
		built[name] = g
		return g, nil
	}
	for _, gs := range p.Groups {
		g, err := group(gs.Name, map[string]bool{})
		if err != nil {
			return nil, err
		}
		r.AddGroup(g)
	}
	return r, nil
}
