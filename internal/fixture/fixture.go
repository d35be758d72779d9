package fixture

import (
	"fmt"
	"strings"
)

// Fixture is a patched instance of a Type. Composite fixtures expose their
// heads as element fixtures, which share the parent's universe.
type Fixture struct {
	Key      string
	Name     string
	Universe int
	Address  int // first DMX channel, 1-based
	Type     *Type

	Parent       *Fixture
	ElementIndex int // position among the parent's elements

	elements []*Fixture
}

// New patches t at address on universe. Element keys are key.1, key.2, ...
func New(key string, t *Type, universe, address int) (*Fixture, error) {
	if t == nil {
		return nil, fmt.Errorf("fixture %s: no type", key)
	}
	if address < 1 || address+t.Width()-1 > 512 {
		return nil, fmt.Errorf("fixture %s: address %d with width %d does not fit in a universe", key, address, t.Width())
	}
	f := &Fixture{
		Key:      key,
		Name:     key,
		Universe: universe,
		Address:  address,
		Type:     t,
	}
	for i, h := range t.Heads {
		f.elements = append(f.elements, &Fixture{
			Key:          fmt.Sprintf("%s.%d", key, i+1),
			Name:         fmt.Sprintf("%s head %d", key, i+1),
			Universe:     universe,
			Address:      address + h.Start - 1,
			Type:         h.Type,
			Parent:       f,
			ElementIndex: i,
		})
	}
	return f, nil
}

func (f *Fixture) String() string {
	return fmt.Sprintf("%s@%d.%d", f.Key, f.Universe, f.Address)
}

// channel converts a 1-based relative channel into an absolute DMX channel.
func (f *Fixture) channel(rel int) int {
	return f.Address + rel - 1
}

// Elements returns the sub-elements of a composite fixture.
func (f *Fixture) Elements() []*Fixture {
	return f.elements
}

// IsComposite reports whether the fixture has sub-elements.
func (f *Fixture) IsComposite() bool {
	return len(f.elements) > 0
}

// Root returns the top-level fixture an element belongs to.
func (f *Fixture) Root() *Fixture {
	for f.Parent != nil {
		f = f.Parent
	}
	return f
}

// HasDimmer reports whether the fixture has a dimmer slider.
func (f *Fixture) HasDimmer() bool {
	return f.HasSlider("dimmer")
}

// HasSlider reports whether the fixture has a slider channel called name.
func (f *Fixture) HasSlider(name string) bool {
	_, ok := f.Type.sliders[strings.ToLower(name)]
	return ok
}

// Slider returns the absolute channel of a slider.
func (f *Fixture) Slider(name string) (int, bool) {
	rel, ok := f.Type.sliders[strings.ToLower(name)]
	if !ok {
		return 0, false
	}
	return f.channel(rel), true
}

// HasSetting reports whether the fixture has a setting channel called name.
func (f *Fixture) HasSetting(name string) bool {
	_, ok := f.Type.settings[strings.ToLower(name)]
	return ok
}

// Setting returns a setting and its absolute channel.
func (f *Fixture) Setting(name string) (*Setting, int, bool) {
	s, ok := f.Type.settings[strings.ToLower(name)]
	if !ok {
		return nil, 0, false
	}
	return s, f.channel(s.Channel), true
}

// HasColour reports whether the fixture has RGB channels.
func (f *Fixture) HasColour() bool {
	return f.Type.HasColour()
}

// Colour returns the absolute colour channels.
func (f *Fixture) Colour() (ColourChannels, bool) {
	if !f.Type.HasColour() {
		return ColourChannels{}, false
	}
	return f.Type.colour.shift(f.Address - 1), true
}

// HasPosition reports whether the fixture has pan and tilt.
func (f *Fixture) HasPosition() bool {
	return f.Type.HasPosition()
}

// Position returns the absolute pan and tilt channels.
func (f *Fixture) Position() (PositionChannels, bool) {
	if !f.Type.HasPosition() {
		return PositionChannels{}, false
	}
	return PositionChannels{
		Pan:  f.channel(f.Type.position.Pan),
		Tilt: f.channel(f.Type.position.Tilt),
	}, true
}
