// Package fixture models patched lighting fixtures, their composite
// sub-elements and fixture groups, and declares the channel-transaction
// interface values are written through.
package fixture

import (
	"fmt"
	"sort"
	"strings"
)

// Transaction stages channel writes and commits them in one batch. Within an
// open transaction Get reflects earlier Set calls, and repeated Sets to the
// same channel leave only the last value.
type Transaction interface {
	Get(universe, channel int) uint8
	Set(universe, channel int, value uint8, fadeMs int)
	Commit() error
}

// Controller opens channel transactions.
type Controller interface {
	Open() Transaction
}

// ColourChannels holds 1-based channel numbers for colour components. Zero
// marks an absent component.
type ColourChannels struct {
	Red, Green, Blue int
	White, Amber, UV int
}

func (c ColourChannels) rgb() bool {
	return c.Red > 0 && c.Green > 0 && c.Blue > 0
}

func (c ColourChannels) shift(by int) ColourChannels {
	s := func(ch int) int {
		if ch == 0 {
			return 0
		}
		return ch + by
	}
	return ColourChannels{
		Red: s(c.Red), Green: s(c.Green), Blue: s(c.Blue),
		White: s(c.White), Amber: s(c.Amber), UV: s(c.UV),
	}
}

// PositionChannels holds 1-based pan and tilt channel numbers.
type PositionChannels struct {
	Pan, Tilt int
}

// Setting is a channel with named discrete options.
type Setting struct {
	Name    string
	Channel int // relative to the fixture, 1-based
	Options map[string]uint8
}

// Level returns the DMX value for a named option.
func (s *Setting) Level(option string) (uint8, bool) {
	v, ok := s.Options[strings.ToLower(option)]
	return v, ok
}

// OptionNames returns the option names ordered by level.
func (s *Setting) OptionNames() []string {
	names := make([]string, 0, len(s.Options))
	for n := range s.Options {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.Options[names[i]] < s.Options[names[j]]
	})
	return names
}

// Head places a sub-element type at a channel offset inside a composite type.
type Head struct {
	Start int // first channel of the head, relative to the parent, 1-based
	Type  *Type
}

// Type is a fixture profile. Property lookups are resolved into maps once,
// when the type is built, so the per-tick path never searches channel lists.
type Type struct {
	Name     string
	Channels []string
	Heads    []Head

	width    int
	sliders  map[string]int
	settings map[string]*Setting
	colour   ColourChannels
	position PositionChannels
}

// TypeOption configures NewType.
type TypeOption func(*Type) error

// WithSetting marks channel name as a setting with named options.
func WithSetting(name string, options map[string]uint8) TypeOption {
	return func(t *Type) error {
		name = strings.ToLower(name)
		ch, ok := t.sliders[name]
		if !ok {
			return fmt.Errorf("type %s: setting %q is not a channel", t.Name, name)
		}
		delete(t.sliders, name)
		opts := make(map[string]uint8, len(options))
		for k, v := range options {
			opts[strings.ToLower(k)] = v
		}
		t.settings[name] = &Setting{Name: name, Channel: ch, Options: opts}
		return nil
	}
}

// WithHeads appends count heads of type head after the type's own channels.
func WithHeads(head *Type, count int) TypeOption {
	return func(t *Type) error {
		if head == nil || count <= 0 {
			return fmt.Errorf("type %s: heads need a type and a positive count", t.Name)
		}
		for i := 0; i < count; i++ {
			t.Heads = append(t.Heads, Head{Start: t.width + 1, Type: head})
			t.width += head.Width()
		}
		return nil
	}
}

// NewType builds a profile from its ordered channel names. red/green/blue
// (or r/g/b), white, amber and uv map to colour; pan and tilt to position;
// every other name becomes a slider unless declared a setting.
func NewType(name string, channels []string, opts ...TypeOption) (*Type, error) {
	t := &Type{
		Name:     name,
		Channels: append([]string(nil), channels...),
		width:    len(channels),
		sliders:  make(map[string]int),
		settings: make(map[string]*Setting),
	}
	for i, raw := range channels {
		ch := i + 1
		n := strings.ToLower(strings.TrimSpace(raw))
		var dst *int
		switch n {
		case "red", "r":
			dst = &t.colour.Red
		case "green", "g":
			dst = &t.colour.Green
		case "blue", "b":
			dst = &t.colour.Blue
		case "white", "w":
			dst = &t.colour.White
		case "amber", "a":
			dst = &t.colour.Amber
		case "uv":
			dst = &t.colour.UV
		case "pan":
			dst = &t.position.Pan
		case "tilt":
			dst = &t.position.Tilt
		case "":
			return nil, fmt.Errorf("type %s: channel %d has no name", name, ch)
		default:
			if _, dup := t.sliders[n]; dup {
				return nil, fmt.Errorf("type %s: duplicate channel %q", name, n)
			}
			t.sliders[n] = ch
			continue
		}
		if *dst != 0 {
			return nil, fmt.Errorf("type %s: duplicate channel %q", name, n)
		}
		*dst = ch
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Width is the number of DMX channels the type occupies, heads included.
func (t *Type) Width() int {
	return t.width
}

// Sliders returns the slider names in channel order.
func (t *Type) Sliders() []string {
	names := make([]string, 0, len(t.sliders))
	for n := range t.sliders {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return t.sliders[names[i]] < t.sliders[names[j]] })
	return names
}

// Settings returns the setting names in channel order.
func (t *Type) Settings() []string {
	names := make([]string, 0, len(t.settings))
	for n := range t.settings {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return t.settings[names[i]].Channel < t.settings[names[j]].Channel })
	return names
}

// HasColour reports whether the type has at least red, green and blue.
func (t *Type) HasColour() bool {
	return t.colour.rgb()
}

// HasPosition reports whether the type has pan and tilt.
func (t *Type) HasPosition() bool {
	return t.position.Pan > 0 && t.position.Tilt > 0
}
