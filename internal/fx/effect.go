package fx

import (
	"math"
)

// Effect is a stateless animation: a pure function of phase and member
// context. Parameter changes build a new Effect value.
type Effect interface {
	Name() string
	Kind() Kind
	Calculate(phase float64, ctx Context) Output
}

// Static holds a level. Across a spread distribution it lights one slot at
// a time, which turns it into a chase.
type Static struct {
	Level uint8
}

func (Static) Name() string { return "static" }
func (Static) Kind() Kind   { return KindSlider }

func (e Static) Calculate(phase float64, ctx Context) Output {
	if !ctx.InWindow(phase) {
		return SliderValue(0)
	}
	return SliderValue(e.Level)
}

// Sine eases between Min and Max, starting at Min.
type Sine struct {
	Min, Max uint8
}

func (Sine) Name() string { return "sine" }
func (Sine) Kind() Kind   { return KindSlider }

func (e Sine) Calculate(phase float64, _ Context) Output {
	t := (1 - math.Cos(2*math.Pi*phase)) / 2
	return SliderValue(lerpByte(e.Min, e.Max, t))
}

// Ramp rises linearly from Min to Max over the cycle.
type Ramp struct {
	Min, Max uint8
}

func (Ramp) Name() string { return "ramp" }
func (Ramp) Kind() Kind   { return KindSlider }

func (e Ramp) Calculate(phase float64, _ Context) Output {
	return SliderValue(lerpByte(e.Min, e.Max, phase))
}

// RampDown falls linearly from Max to Min over the cycle.
type RampDown struct {
	Min, Max uint8
}

func (RampDown) Name() string { return "ramp_down" }
func (RampDown) Kind() Kind   { return KindSlider }

func (e RampDown) Calculate(phase float64, _ Context) Output {
	return SliderValue(lerpByte(e.Max, e.Min, phase))
}

// TriangleWave rises to Max at half cycle and falls back to Min.
type TriangleWave struct {
	Min, Max uint8
}

func (TriangleWave) Name() string { return "triangle" }
func (TriangleWave) Kind() Kind   { return KindSlider }

func (e TriangleWave) Calculate(phase float64, _ Context) Output {
	return SliderValue(lerpByte(e.Min, e.Max, Triangle(phase)))
}

// Pulse snaps up over Attack (a fraction of the cycle) then decays to Min.
type Pulse struct {
	Min, Max uint8
	Attack   float64
}

func (Pulse) Name() string { return "pulse" }
func (Pulse) Kind() Kind   { return KindSlider }

func (e Pulse) Calculate(phase float64, _ Context) Output {
	attack := max(0, min(1, e.Attack))
	if phase < attack {
		return SliderValue(lerpByte(e.Min, e.Max, phase/attack))
	}
	if attack >= 1 {
		return SliderValue(e.Max)
	}
	decay := (phase - attack) / (1 - attack)
	return SliderValue(lerpByte(e.Max, e.Min, decay))
}

// Square is Max for the first Duty fraction of the cycle, Min for the rest.
type Square struct {
	Min, Max uint8
	Duty     float64
}

func (Square) Name() string { return "square" }
func (Square) Kind() Kind   { return KindSlider }

func (e Square) Calculate(phase float64, _ Context) Output {
	if phase < e.Duty {
		return SliderValue(e.Max)
	}
	return SliderValue(e.Min)
}

// Strobe flashes Level for OnRatio of the cycle and is dark otherwise.
type Strobe struct {
	Level   uint8
	OnRatio float64
}

func (Strobe) Name() string { return "strobe" }
func (Strobe) Kind() Kind   { return KindSlider }

func (e Strobe) Calculate(phase float64, _ Context) Output {
	if phase < e.OnRatio {
		return SliderValue(e.Level)
	}
	return SliderValue(0)
}

// Flicker jumps to a pseudo-random level between Min and Max Steps times per
// cycle. The sequence depends only on Seed, phase and member index.
type Flicker struct {
	Min, Max uint8
	Steps    int
	Seed     uint64
}

func (Flicker) Name() string { return "flicker" }
func (Flicker) Kind() Kind   { return KindSlider }

func (e Flicker) Calculate(phase float64, ctx Context) Output {
	steps := max(1, e.Steps)
	step := uint64(phase * float64(steps))
	h := mix64(e.Seed ^ step*0x9e3779b97f4a7c15 ^ uint64(ctx.MemberIndex)<<32)
	t := float64(h>>11) / float64(1<<53)
	return SliderValue(lerpByte(e.Min, e.Max, t))
}

// mix64 is the splitmix64 finaliser.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// StaticSetting selects Option, windowed like the other static effects.
type StaticSetting struct {
	Option string
}

func (StaticSetting) Name() string { return "static_setting" }
func (StaticSetting) Kind() Kind   { return KindSetting }

func (e StaticSetting) Calculate(phase float64, ctx Context) Output {
	if !ctx.InWindow(phase) {
		return SettingValue{}
	}
	return SettingValue{Option: e.Option}
}
