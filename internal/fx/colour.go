package fx

import (
	"math"
	"sync"

	"github.com/cjcormack/lighting7-sub001/internal/colour"
)

// StaticColour holds a colour, windowed across spread distributions.
type StaticColour struct {
	Colour colour.Extended
}

func (StaticColour) Name() string { return "static_colour" }
func (StaticColour) Kind() Kind   { return KindColour }

func (e StaticColour) Calculate(phase float64, ctx Context) Output {
	if !ctx.InWindow(phase) {
		return ColourValue{}
	}
	return ColourValue{e.Colour}
}

// ColourCycle steps through Colours, cross-fading into the next colour over
// the last FadeRatio of each step.
type ColourCycle struct {
	Colours   []colour.Extended
	FadeRatio float64
}

func (ColourCycle) Name() string { return "colour_cycle" }
func (ColourCycle) Kind() Kind   { return KindColour }

func (e ColourCycle) Calculate(phase float64, _ Context) Output {
	n := len(e.Colours)
	if n == 0 {
		return ColourValue{}
	}
	pos := phase * float64(n)
	i := min(int(pos), n-1)
	t := pos - float64(i)
	cur, next := e.Colours[i], e.Colours[(i+1)%n]
	fade := max(0, min(1, e.FadeRatio))
	if fade == 0 || t < 1-fade {
		return ColourValue{cur}
	}
	return ColourValue{colour.Lerp(cur, next, (t-(1-fade))/fade)}
}

// ColourFade fades From to To and back once per cycle.
type ColourFade struct {
	From, To colour.Extended
}

func (ColourFade) Name() string { return "colour_fade" }
func (ColourFade) Kind() Kind   { return KindColour }

func (e ColourFade) Calculate(phase float64, _ Context) Output {
	return ColourValue{colour.Lerp(e.From, e.To, Triangle(phase))}
}

// Rainbow sweeps the hue wheel once per cycle.
type Rainbow struct {
	Saturation, Value float64
}

func (Rainbow) Name() string { return "rainbow" }
func (Rainbow) Kind() Kind   { return KindColour }

func (e Rainbow) Calculate(phase float64, _ Context) Output {
	return ColourValue{colour.FromHSV(phase, e.Saturation, e.Value)}
}

// ColourStrobe flashes Colour for OnRatio of the cycle.
type ColourStrobe struct {
	Colour  colour.Extended
	OnRatio float64
}

func (ColourStrobe) Name() string { return "colour_strobe" }
func (ColourStrobe) Kind() Kind   { return KindColour }

func (e ColourStrobe) Calculate(phase float64, _ Context) Output {
	if phase < e.OnRatio {
		return ColourValue{e.Colour}
	}
	return ColourValue{}
}

// paletteCache keeps the effect built from the last palette version seen.
// Copies of a palette effect share one cache.
type paletteCache struct {
	mu       sync.Mutex
	palette  *colour.Palette
	version  uint64
	delegate Effect
}

func (c *paletteCache) get(p *colour.Palette, build func([]colour.Extended) Effect, refs []string) Effect {
	v := p.Version()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delegate != nil && c.palette == p && c.version == v {
		return c.delegate
	}
	colours, err := p.Resolve(refs)
	if err != nil {
		colours = nil
	}
	c.palette, c.version, c.delegate = p, v, build(colours)
	return c.delegate
}

// PaletteColour is a static colour read through the shared palette, e.g.
// "P2" or "#ff0000".
type PaletteColour struct {
	Ref   string
	cache *paletteCache
}

func NewPaletteColour(ref string) PaletteColour {
	return PaletteColour{Ref: ref, cache: &paletteCache{}}
}

func (PaletteColour) Name() string { return "palette_colour" }
func (PaletteColour) Kind() Kind   { return KindColour }

func (e PaletteColour) Calculate(phase float64, ctx Context) Output {
	if e.cache == nil {
		e.cache = &paletteCache{}
	}
	d := e.cache.get(ctx.Palette, func(cs []colour.Extended) Effect {
		if len(cs) == 0 {
			return StaticColour{}
		}
		return StaticColour{Colour: cs[0]}
	}, []string{e.Ref})
	return d.Calculate(phase, ctx)
}

// PaletteCycle is a colour cycle over palette references. "P*" expands to
// the whole palette.
type PaletteCycle struct {
	Refs      []string
	FadeRatio float64
	cache     *paletteCache
}

func NewPaletteCycle(refs []string, fade float64) PaletteCycle {
	return PaletteCycle{Refs: refs, FadeRatio: fade, cache: &paletteCache{}}
}

func (PaletteCycle) Name() string { return "palette_cycle" }
func (PaletteCycle) Kind() Kind   { return KindColour }

func (e PaletteCycle) Calculate(phase float64, ctx Context) Output {
	if e.cache == nil {
		e.cache = &paletteCache{}
	}
	d := e.cache.get(ctx.Palette, func(cs []colour.Extended) Effect {
		return ColourCycle{Colours: cs, FadeRatio: e.FadeRatio}
	}, e.Refs)
	return d.Calculate(phase, ctx)
}

// StaticPosition holds a pan/tilt, windowed across spread distributions.
// Outside its slot a member returns to centre.
type StaticPosition struct {
	Pan, Tilt uint8
}

func (StaticPosition) Name() string { return "static_position" }
func (StaticPosition) Kind() Kind   { return KindPosition }

func (e StaticPosition) Calculate(phase float64, ctx Context) Output {
	if !ctx.InWindow(phase) {
		return Centre
	}
	return PositionValue{Pan: e.Pan, Tilt: e.Tilt}
}

// Circle traces an ellipse around a centre point.
type Circle struct {
	Pan, Tilt             uint8
	PanRadius, TiltRadius uint8
}

func (Circle) Name() string { return "circle" }
func (Circle) Kind() Kind   { return KindPosition }

func (e Circle) Calculate(phase float64, _ Context) Output {
	a := 2 * math.Pi * phase
	return PositionValue{
		Pan:  offsetByte(e.Pan, float64(e.PanRadius)*math.Cos(a)),
		Tilt: offsetByte(e.Tilt, float64(e.TiltRadius)*math.Sin(a)),
	}
}

// Figure8 traces a lemniscate: tilt runs at twice the pan frequency.
type Figure8 struct {
	Pan, Tilt             uint8
	PanRadius, TiltRadius uint8
}

func (Figure8) Name() string { return "figure8" }
func (Figure8) Kind() Kind   { return KindPosition }

func (e Figure8) Calculate(phase float64, _ Context) Output {
	a := 2 * math.Pi * phase
	return PositionValue{
		Pan:  offsetByte(e.Pan, float64(e.PanRadius)*math.Sin(a)),
		Tilt: offsetByte(e.Tilt, float64(e.TiltRadius)*math.Sin(2*a)),
	}
}

// PanSweep sweeps pan between Min and Max and back at a fixed tilt.
type PanSweep struct {
	Min, Max uint8
	Tilt     uint8
}

func (PanSweep) Name() string { return "pan_sweep" }
func (PanSweep) Kind() Kind   { return KindPosition }

func (e PanSweep) Calculate(phase float64, _ Context) Output {
	return PositionValue{Pan: lerpByte(e.Min, e.Max, Triangle(phase)), Tilt: e.Tilt}
}

// TiltSweep sweeps tilt between Min and Max and back at a fixed pan.
type TiltSweep struct {
	Min, Max uint8
	Pan      uint8
}

func (TiltSweep) Name() string { return "tilt_sweep" }
func (TiltSweep) Kind() Kind   { return KindPosition }

func (e TiltSweep) Calculate(phase float64, _ Context) Output {
	return PositionValue{Pan: e.Pan, Tilt: lerpByte(e.Min, e.Max, Triangle(phase))}
}

func offsetByte(centre uint8, delta float64) uint8 {
	return clampByte(int(math.Round(float64(centre) + delta)))
}
