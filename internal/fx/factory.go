package fx

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cjcormack/lighting7-sub001/internal/colour"
)

var ErrUnknownEffect = errors.New("unknown effect")

type params map[string]string

func (p params) byte(key string, def uint8) (uint8, error) {
	s, ok := p[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return uint8(v), nil
}

func (p params) float(key string, def float64) (float64, error) {
	s, ok := p[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return v, nil
}

func (p params) colour(key string, def colour.Extended) (colour.Extended, error) {
	s, ok := p[key]
	if !ok {
		return def, nil
	}
	c, err := colour.Parse(s)
	if err != nil {
		return colour.Extended{}, fmt.Errorf("param %s: %w", key, err)
	}
	return c, nil
}

func (p params) list(key, def string) []string {
	s, ok := p[key]
	if !ok {
		s = def
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type builder func(p params, e *errs) Effect

// errs keeps the first parse error across several lookups.
type errs struct{ err error }

func (e *errs) set(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *errs) b(v uint8, err error) uint8 {
	e.set(err)
	return v
}

func (e *errs) f(v float64, err error) float64 {
	e.set(err)
	return v
}

func (e *errs) c(v colour.Extended, err error) colour.Extended {
	e.set(err)
	return v
}

var builders = map[string]builder{
	"static": func(p params, e *errs) Effect {
		return Static{Level: e.b(p.byte("level", 255))}
	},
	"sine": func(p params, e *errs) Effect {
		return Sine{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255))}
	},
	"ramp": func(p params, e *errs) Effect {
		return Ramp{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255))}
	},
	"ramp_down": func(p params, e *errs) Effect {
		return RampDown{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255))}
	},
	"triangle": func(p params, e *errs) Effect {
		return TriangleWave{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255))}
	},
	"pulse": func(p params, e *errs) Effect {
		return Pulse{
			Min:    e.b(p.byte("min", 0)),
			Max:    e.b(p.byte("max", 255)),
			Attack: e.f(p.float("attack", 0.1)),
		}
	},
	"square": func(p params, e *errs) Effect {
		return Square{
			Min:  e.b(p.byte("min", 0)),
			Max:  e.b(p.byte("max", 255)),
			Duty: e.f(p.float("duty", 0.5)),
		}
	},
	"strobe": func(p params, e *errs) Effect {
		return Strobe{Level: e.b(p.byte("level", 255)), OnRatio: e.f(p.float("on_ratio", 0.1))}
	},
	"flicker": func(p params, e *errs) Effect {
		return Flicker{
			Min:   e.b(p.byte("min", 0)),
			Max:   e.b(p.byte("max", 255)),
			Steps: int(e.f(p.float("steps", 8))),
			Seed:  uint64(e.f(p.float("seed", 1))),
		}
	},
	"static_colour": func(p params, e *errs) Effect {
		return StaticColour{Colour: e.c(p.colour("colour", colour.White))}
	},
	"colour_cycle": func(p params, e *errs) Effect {
		var cs []colour.Extended
		for _, s := range p.list("colours", "red,green,blue") {
			c, err := colour.Parse(s)
			if err != nil {
				e.set(fmt.Errorf("param colours: %w", err))
			}
			cs = append(cs, c)
		}
		return ColourCycle{Colours: cs, FadeRatio: e.f(p.float("fade", 0))}
	},
	"colour_fade": func(p params, e *errs) Effect {
		return ColourFade{From: e.c(p.colour("from", colour.Black)), To: e.c(p.colour("to", colour.White))}
	},
	"rainbow": func(p params, e *errs) Effect {
		return Rainbow{Saturation: e.f(p.float("saturation", 1)), Value: e.f(p.float("value", 1))}
	},
	"colour_strobe": func(p params, e *errs) Effect {
		return ColourStrobe{Colour: e.c(p.colour("colour", colour.White)), OnRatio: e.f(p.float("on_ratio", 0.1))}
	},
	"palette_colour": func(p params, _ *errs) Effect {
		return NewPaletteColour(strings.TrimSpace(p["ref"]))
	},
	"palette_cycle": func(p params, e *errs) Effect {
		return NewPaletteCycle(p.list("refs", "P*"), e.f(p.float("fade", 0)))
	},
	"static_position": func(p params, e *errs) Effect {
		return StaticPosition{Pan: e.b(p.byte("pan", 128)), Tilt: e.b(p.byte("tilt", 128))}
	},
	"circle": func(p params, e *errs) Effect {
		return Circle{
			Pan:        e.b(p.byte("pan", 128)),
			Tilt:       e.b(p.byte("tilt", 128)),
			PanRadius:  e.b(p.byte("pan_radius", 64)),
			TiltRadius: e.b(p.byte("tilt_radius", 64)),
		}
	},
	"figure8": func(p params, e *errs) Effect {
		return Figure8{
			Pan:        e.b(p.byte("pan", 128)),
			Tilt:       e.b(p.byte("tilt", 128)),
			PanRadius:  e.b(p.byte("pan_radius", 64)),
			TiltRadius: e.b(p.byte("tilt_radius", 32)),
		}
	},
	"pan_sweep": func(p params, e *errs) Effect {
		return PanSweep{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255)), Tilt: e.b(p.byte("tilt", 128))}
	},
	"tilt_sweep": func(p params, e *errs) Effect {
		return TiltSweep{Min: e.b(p.byte("min", 0)), Max: e.b(p.byte("max", 255)), Pan: e.b(p.byte("pan", 128))}
	},
	"static_setting": func(p params, e *errs) Effect {
		opt := strings.TrimSpace(p["option"])
		if opt == "" {
			e.set(errors.New("param option: required"))
		}
		return StaticSetting{Option: opt}
	},
}

// NewEffect builds a library effect from its name and string parameters.
func NewEffect(name string, p map[string]string) (Effect, error) {
	b, ok := builders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
	var pe errs
	e := b(params(p), &pe)
	if pe.err != nil {
		return nil, fmt.Errorf("effect %s: %w", name, pe.err)
	}
	return e, nil
}

// Names lists the effects NewEffect knows.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
