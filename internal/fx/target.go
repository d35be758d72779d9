package fx

import (
	"fmt"

	"github.com/cjcormack/lighting7-sub001/internal/fixture"
)

// Ref names what a target drives: one fixture (or element) or a group.
type Ref struct {
	key   string
	group bool
}

func FixtureRef(key string) Ref { return Ref{key: key} }
func GroupRef(name string) Ref  { return Ref{key: name, group: true} }

// Key is the fixture key or group name.
func (r Ref) Key() string { return r.key }

func (r Ref) IsGroup() bool { return r.group }

func (r Ref) String() string {
	if r.group {
		return "group:" + r.key
	}
	return r.key
}

// Target binds an output kind to a fixture property. Apply reads the current
// value through txn, blends and stages the result. It returns false when the
// output shape does not match or the fixture lacks the property.
type Target interface {
	Ref() Ref
	Kind() Kind
	Property() string
	FixtureHasProperty(f *fixture.Fixture) bool
	Apply(f *fixture.Fixture, out Output, blend BlendMode, txn fixture.Transaction) bool
	target()
}

// SliderTarget drives a named slider channel such as dimmer.
type SliderTarget struct {
	ref  Ref
	Name string
}

func (SliderTarget) target()   {}
func (ColourTarget) target()   {}
func (PositionTarget) target() {}
func (SettingTarget) target()  {}

func Slider(ref Ref, name string) SliderTarget {
	return SliderTarget{ref: ref, Name: name}
}

func (t SliderTarget) Ref() Ref         { return t.ref }
func (SliderTarget) Kind() Kind         { return KindSlider }
func (t SliderTarget) Property() string { return t.Name }

func (t SliderTarget) FixtureHasProperty(f *fixture.Fixture) bool {
	return f.HasSlider(t.Name)
}

func (t SliderTarget) Apply(f *fixture.Fixture, out Output, blend BlendMode, txn fixture.Transaction) bool {
	v, ok := out.(SliderValue)
	if !ok {
		return false
	}
	ch, ok := f.Slider(t.Name)
	if !ok {
		return false
	}
	txn.Set(f.Universe, ch, blend.Byte(txn.Get(f.Universe, ch), uint8(v)), 0)
	return true
}

// ColourTarget drives RGB with blending. White, amber and UV are written
// as given when the fixture has them.
type ColourTarget struct {
	ref Ref
}

func Colour(ref Ref) ColourTarget {
	return ColourTarget{ref: ref}
}

func (t ColourTarget) Ref() Ref       { return t.ref }
func (ColourTarget) Kind() Kind       { return KindColour }
func (ColourTarget) Property() string { return "colour" }

func (ColourTarget) FixtureHasProperty(f *fixture.Fixture) bool {
	return f.HasColour()
}

func (ColourTarget) Apply(f *fixture.Fixture, out Output, blend BlendMode, txn fixture.Transaction) bool {
	v, ok := out.(ColourValue)
	if !ok {
		return false
	}
	cc, ok := f.Colour()
	if !ok {
		return false
	}
	u := f.Universe
	for _, c := range []struct {
		ch int
		v  uint8
	}{{cc.Red, v.R}, {cc.Green, v.G}, {cc.Blue, v.B}} {
		txn.Set(u, c.ch, blend.Byte(txn.Get(u, c.ch), c.v), 0)
	}
	for _, c := range []struct {
		ch int
		v  uint8
	}{{cc.White, v.W}, {cc.Amber, v.A}, {cc.UV, v.UV}} {
		if c.ch > 0 {
			txn.Set(u, c.ch, c.v, 0)
		}
	}
	return true
}

// PositionTarget drives pan and tilt.
type PositionTarget struct {
	ref Ref
}

func Position(ref Ref) PositionTarget {
	return PositionTarget{ref: ref}
}

func (t PositionTarget) Ref() Ref       { return t.ref }
func (PositionTarget) Kind() Kind       { return KindPosition }
func (PositionTarget) Property() string { return "position" }

func (PositionTarget) FixtureHasProperty(f *fixture.Fixture) bool {
	return f.HasPosition()
}

func (PositionTarget) Apply(f *fixture.Fixture, out Output, blend BlendMode, txn fixture.Transaction) bool {
	v, ok := out.(PositionValue)
	if !ok {
		return false
	}
	pc, ok := f.Position()
	if !ok {
		return false
	}
	u := f.Universe
	txn.Set(u, pc.Pan, blend.Axis(txn.Get(u, pc.Pan), v.Pan), 0)
	txn.Set(u, pc.Tilt, blend.Axis(txn.Get(u, pc.Tilt), v.Tilt), 0)
	return true
}

// SettingTarget selects an option on a named setting channel. Settings are
// always overridden whatever the blend mode.
type SettingTarget struct {
	ref  Ref
	Name string
}

func Setting(ref Ref, name string) SettingTarget {
	return SettingTarget{ref: ref, Name: name}
}

func (t SettingTarget) Ref() Ref         { return t.ref }
func (SettingTarget) Kind() Kind         { return KindSetting }
func (t SettingTarget) Property() string { return "setting:" + t.Name }

func (t SettingTarget) FixtureHasProperty(f *fixture.Fixture) bool {
	return f.HasSetting(t.Name)
}

func (t SettingTarget) Apply(f *fixture.Fixture, out Output, _ BlendMode, txn fixture.Transaction) bool {
	v, ok := out.(SettingValue)
	if !ok {
		return false
	}
	s, ch, ok := f.Setting(t.Name)
	if !ok {
		return false
	}
	var level uint8
	if v.Option != "" {
		if level, ok = s.Level(v.Option); !ok {
			return false
		}
	}
	txn.Set(f.Universe, ch, level, 0)
	return true
}

// Describe renders a target for logs and snapshots, e.g. "group:front dimmer".
func Describe(t Target) string {
	return fmt.Sprintf("%s %s", t.Ref(), t.Property())
}

// AdjustForMember applies a group member's pan/tilt offsets and mirroring
// to a position output. Other outputs pass through.
func AdjustForMember(out Output, meta fixture.Meta) Output {
	v, ok := out.(PositionValue)
	if !ok {
		return out
	}
	pan := int(v.Pan)
	if meta.SymmetricInvert {
		pan = 255 - pan
	}
	return PositionValue{
		Pan:  clampByte(pan + meta.PanOffset),
		Tilt: clampByte(int(v.Tilt) + meta.TiltOffset),
	}
}
