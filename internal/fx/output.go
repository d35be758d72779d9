// Package fx holds the effect library, distribution strategies, targets,
// blend modes and the running effect instance the scheduler evaluates.
package fx

import (
	"fmt"
	"math"

	"github.com/cjcormack/lighting7-sub001/internal/colour"
)

// Kind is the shape of an effect's output and a target's input.
type Kind int

const (
	KindSlider Kind = iota
	KindColour
	KindPosition
	KindSetting
)

func (k Kind) String() string {
	switch k {
	case KindSlider:
		return "slider"
	case KindColour:
		return "colour"
	case KindPosition:
		return "position"
	case KindSetting:
		return "setting"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Output is the value an effect produces for one member at one phase.
// The set of implementations is closed to this package.
type Output interface {
	Kind() Kind
	String() string
	output()
}

// SliderValue drives a single 0-255 channel.
type SliderValue uint8

// ColourValue drives RGB and, where present, white, amber and UV.
type ColourValue struct {
	colour.Extended
}

// PositionValue drives pan and tilt. 128/128 is centre.
type PositionValue struct {
	Pan, Tilt uint8
}

// SettingValue selects a named option on a setting channel. An empty option
// writes zero.
type SettingValue struct {
	Option string
}

func (SliderValue) Kind() Kind   { return KindSlider }
func (ColourValue) Kind() Kind   { return KindColour }
func (PositionValue) Kind() Kind { return KindPosition }
func (SettingValue) Kind() Kind  { return KindSetting }

func (v SliderValue) String() string   { return fmt.Sprintf("%d", uint8(v)) }
func (v ColourValue) String() string   { return v.Extended.String() }
func (v PositionValue) String() string { return fmt.Sprintf("pan %d tilt %d", v.Pan, v.Tilt) }
func (v SettingValue) String() string  { return v.Option }

func (SliderValue) output()   {}
func (ColourValue) output()   {}
func (PositionValue) output() {}
func (SettingValue) output()  {}

// Centre is the neutral position.
var Centre = PositionValue{Pan: 128, Tilt: 128}

// Neutral returns the value a windowed effect emits outside its slot.
func Neutral(k Kind) Output {
	switch k {
	case KindColour:
		return ColourValue{}
	case KindPosition:
		return Centre
	case KindSetting:
		return SettingValue{}
	}
	return SliderValue(0)
}

// Context describes where the member being evaluated sits in its
// distribution. The zero value plus GroupSize 1 is a lone fixture.
type Context struct {
	GroupSize          int
	MemberIndex        int
	DistributionOffset float64
	HasSpread          bool
	DistinctSlots      int
	TrianglePhase      bool
	Palette            *colour.Palette
}

// Single returns the context of a fixture evaluated on its own.
func Single(p *colour.Palette) Context {
	return Context{GroupSize: 1, DistinctSlots: 1, Palette: p}
}

// InWindow reports whether a static effect is lit at shifted phase p. With
// no spread every member is always lit. Otherwise the unshifted phase is
// recovered and tested against the member's slot, which starts at its
// distribution offset and is 1/DistinctSlots wide, wrapping past 1.
func (c Context) InWindow(p float64) bool {
	if !c.HasSpread || c.DistinctSlots <= 1 {
		return true
	}
	// Snap away the rounding left by shifting and unshifting.
	own := Wrap(math.Round((p+c.DistributionOffset)*1e9) / 1e9)
	if c.TrianglePhase {
		own = min(Triangle(own), math.Nextafter(1, 0))
	}
	const eps = 1e-9
	start := c.DistributionOffset
	end := start + 1/float64(c.DistinctSlots)
	if own >= start-eps && own < end-eps {
		return true
	}
	// A slot starting late in the cycle carries on past 1.
	return end > 1 && own < end-1-eps
}

// Wrap folds p into [0,1).
func Wrap(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	p -= math.Floor(p)
	if p >= 1 {
		return 0
	}
	return p
}

// Triangle maps [0,1) onto 0→1→0.
func Triangle(p float64) float64 {
	if p < 0.5 {
		return p * 2
	}
	return 2 - p*2
}

func lerpByte(lo, hi uint8, t float64) uint8 {
	t = max(0, min(1, t))
	return uint8(math.Round(float64(lo) + (float64(hi)-float64(lo))*t))
}

func clampByte(v int) uint8 {
	return uint8(max(0, min(255, v)))
}
