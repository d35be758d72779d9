package fx

import (
	"fmt"
	"strings"
)

// BlendMode combines an effect's value with the channel's current value.
type BlendMode int

const (
	Override BlendMode = iota
	Additive
	Multiply
	Max
	Min
)

var blendNames = [...]string{
	Override: "OVERRIDE",
	Additive: "ADDITIVE",
	Multiply: "MULTIPLY",
	Max:      "MAX",
	Min:      "MIN",
}

func (b BlendMode) String() string {
	if b >= 0 && int(b) < len(blendNames) {
		return blendNames[b]
	}
	return fmt.Sprintf("BlendMode(%d)", int(b))
}

func ParseBlendMode(s string) (BlendMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return Override, nil
	}
	for i, n := range blendNames {
		if n == name {
			return BlendMode(i), nil
		}
	}
	return Override, fmt.Errorf("unknown blend mode %q", s)
}

// Byte blends one 0-255 channel.
func (b BlendMode) Byte(old, v uint8) uint8 {
	switch b {
	case Additive:
		return clampByte(int(old) + int(v))
	case Multiply:
		return uint8(int(old) * int(v) / 255)
	case Max:
		return max(old, v)
	case Min:
		return min(old, v)
	}
	return v
}

// Axis blends a pan or tilt channel. Additive is centred on 128 so a
// nudge of 128 leaves the position unchanged.
func (b BlendMode) Axis(old, v uint8) uint8 {
	if b == Additive {
		return clampByte(int(old) + int(v) - 128)
	}
	return b.Byte(old, v)
}
