package fx

import (
	"math"
	"sync/atomic"
	"time"
)

// Timing sets the cycle length in beats and whether the effect waits for
// the next downbeat before it starts.
type Timing struct {
	Division    float64
	StartOnBeat bool
}

// DefaultTiming is one cycle per beat.
var DefaultTiming = Timing{Division: 1}

// Instance is a running effect. Effect, Target, Timing and Blend never
// change on a given Instance; Update produces a new Instance that shares
// the id, start time and the mutable state below with the old one.
type Instance struct {
	ID        int64
	Effect    Effect
	Target    Target
	Timing    Timing
	Blend     BlendMode
	StartedAt time.Time
	PresetID  string

	state *instanceState
}

type instanceState struct {
	phaseOffset   atomic.Uint64 // float64 bits
	distribution  atomic.Pointer[Distribution]
	elementMode   atomic.Int32
	elementFilter atomic.Int32
	running       atomic.Bool
	awaitingBeat  atomic.Bool
	lastPhase     atomic.Uint64 // float64 bits
}

// NewInstance creates a running instance with a unified distribution.
func NewInstance(id int64, e Effect, t Target, timing Timing, blend BlendMode, now time.Time) *Instance {
	if timing.Division <= 0 {
		timing.Division = DefaultTiming.Division
	}
	in := &Instance{
		ID:        id,
		Effect:    e,
		Target:    t,
		Timing:    timing,
		Blend:     blend,
		StartedAt: now,
		state:     &instanceState{},
	}
	d := UnifiedDistribution
	in.state.distribution.Store(&d)
	in.state.running.Store(true)
	in.state.awaitingBeat.Store(timing.StartOnBeat)
	return in
}

// With returns a copy carrying a new effect, timing and blend.
func (in *Instance) With(e Effect, timing Timing, blend BlendMode) *Instance {
	if timing.Division <= 0 {
		timing.Division = in.Timing.Division
	}
	out := *in
	out.Effect, out.Timing, out.Blend = e, timing, blend
	return &out
}

func (in *Instance) PhaseOffset() float64 {
	return math.Float64frombits(in.state.phaseOffset.Load())
}

func (in *Instance) SetPhaseOffset(v float64) {
	in.state.phaseOffset.Store(math.Float64bits(Wrap(v)))
}

func (in *Instance) Distribution() Distribution {
	return *in.state.distribution.Load()
}

func (in *Instance) SetDistribution(d Distribution) {
	in.state.distribution.Store(&d)
}

func (in *Instance) ElementMode() ElementMode {
	return ElementMode(in.state.elementMode.Load())
}

func (in *Instance) SetElementMode(m ElementMode) {
	in.state.elementMode.Store(int32(m))
}

func (in *Instance) ElementFilter() ElementFilter {
	return ElementFilter(in.state.elementFilter.Load())
}

func (in *Instance) SetElementFilter(f ElementFilter) {
	in.state.elementFilter.Store(int32(f))
}

func (in *Instance) Running() bool {
	return in.state.running.Load()
}

// Pause stops evaluation from the next tick. It reports whether the state
// changed.
func (in *Instance) Pause() bool {
	return in.state.running.CompareAndSwap(true, false)
}

// Resume restarts evaluation from the next tick.
func (in *Instance) Resume() bool {
	return in.state.running.CompareAndSwap(false, true)
}

// Ready reports whether the instance should be evaluated on a tick whose
// position within the beat is inBeat. A start-on-beat instance stays idle
// until the first downbeat.
func (in *Instance) Ready(inBeat int) bool {
	if !in.state.awaitingBeat.Load() {
		return true
	}
	if inBeat != 0 {
		return false
	}
	in.state.awaitingBeat.Store(false)
	return true
}

// LastPhase is the base phase computed on the most recent evaluated tick.
func (in *Instance) LastPhase() float64 {
	return math.Float64frombits(in.state.lastPhase.Load())
}

// BasePhase returns the instance phase for a clock phase, offset applied,
// and records it as the last phase.
func (in *Instance) BasePhase(clockPhase float64) float64 {
	p := Wrap(clockPhase + in.PhaseOffset())
	in.state.lastPhase.Store(math.Float64bits(p))
	return p
}

// MemberPhase shifts a base phase by a member's distribution offset. A
// member with a larger offset runs behind, so LINEAR chases forward.
func MemberPhase(base float64, ctx Context) float64 {
	return Wrap(base - ctx.DistributionOffset)
}
