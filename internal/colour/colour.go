// Package colour holds the extended colour value used by colour effects and
// targets, plus the shared palette effects can refer to indirectly.
package colour

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Extended is an RGB colour with optional white, amber and UV components.
// A zero W, A or UV means the component is unused.
type Extended struct {
	R, G, B  uint8
	W, A, UV uint8
}

var (
	Black = Extended{}
	White = Extended{R: 255, G: 255, B: 255}
	Red   = Extended{R: 255}
	Green = Extended{G: 255}
	Blue  = Extended{B: 255}
)

// named colours accepted by Parse, after the friendly names show files use.
var named = map[string]Extended{
	"off":     Black,
	"black":   Black,
	"white":   White,
	"red":     Red,
	"green":   Green,
	"blue":    Blue,
	"amber":   {R: 255, G: 191},
	"cyan":    {G: 255, B: 255},
	"magenta": {R: 255, B: 255},
	"yellow":  {R: 255, G: 255},
	"purple":  {R: 128, B: 128},
	"pink":    {R: 255, G: 105, B: 180},
	"orange":  {R: 255, G: 69},
	"uv":      {UV: 255},
}

// RGB builds a plain RGB colour.
func RGB(r, g, b uint8) Extended {
	return Extended{R: r, G: g, B: b}
}

// String serialises the colour as #rrggbb followed by ;wNNN ;aNNN ;uvNNN for
// each non-zero extended component.
func (c Extended) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%02x%02x%02x", c.R, c.G, c.B)
	if c.W != 0 {
		fmt.Fprintf(&b, ";w%d", c.W)
	}
	if c.A != 0 {
		fmt.Fprintf(&b, ";a%d", c.A)
	}
	if c.UV != 0 {
		fmt.Fprintf(&b, ";uv%d", c.UV)
	}
	return b.String()
}

// IsBlack reports whether every component is zero.
func (c Extended) IsBlack() bool {
	return c == Black
}

// Parse reads the String form, or one of the named colours.
func Parse(s string) (Extended, error) {
	s = strings.TrimSpace(s)
	if c, ok := named[strings.ToLower(s)]; ok {
		return c, nil
	}

	parts := strings.Split(s, ";")
	hex := parts[0]
	if len(hex) != 7 || hex[0] != '#' {
		return Extended{}, fmt.Errorf("colour %q: want #rrggbb", s)
	}
	rgb, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return Extended{}, fmt.Errorf("colour %q: %w", s, err)
	}
	c := Extended{
		R: uint8(rgb >> 16),
		G: uint8(rgb >> 8),
		B: uint8(rgb),
	}

	for _, part := range parts[1:] {
		part = strings.ToLower(strings.TrimSpace(part))
		var dst *uint8
		var digits string
		switch {
		case strings.HasPrefix(part, "uv"):
			dst, digits = &c.UV, part[2:]
		case strings.HasPrefix(part, "w"):
			dst, digits = &c.W, part[1:]
		case strings.HasPrefix(part, "a"):
			dst, digits = &c.A, part[1:]
		default:
			return Extended{}, fmt.Errorf("colour %q: unknown component %q", s, part)
		}
		v, err := strconv.ParseUint(digits, 10, 8)
		if err != nil {
			return Extended{}, fmt.Errorf("colour %q: component %q: %w", s, part, err)
		}
		*dst = uint8(v)
	}
	return c, nil
}

// MustParse is Parse for package-level literals.
func MustParse(s string) Extended {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Lerp interpolates linearly per component; t is clamped to [0,1].
func Lerp(a, b Extended, t float64) Extended {
	t = max(0, min(1, t))
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return Extended{
		R:  mix(a.R, b.R),
		G:  mix(a.G, b.G),
		B:  mix(a.B, b.B),
		W:  mix(a.W, b.W),
		A:  mix(a.A, b.A),
		UV: mix(a.UV, b.UV),
	}
}

// Scale multiplies every component by level/255.
func (c Extended) Scale(level uint8) Extended {
	s := func(v uint8) uint8 {
		return uint8(uint16(v) * uint16(level) / 255)
	}
	return Extended{R: s(c.R), G: s(c.G), B: s(c.B), W: s(c.W), A: s(c.A), UV: s(c.UV)}
}

// FromHSV converts hue in [0,1) and saturation, value in [0,1] to RGB.
func FromHSV(h, s, v float64) Extended {
	h = h - math.Floor(h)
	s = max(0, min(1, s))
	v = max(0, min(1, v))

	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	to := func(x float64) uint8 { return uint8(math.Round(x * 255)) }
	return Extended{R: to(r), G: to(g), B: to(b)}
}
