package fx

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Strategy names a distribution rule.
type Strategy int

const (
	Unified Strategy = iota
	Linear
	Reverse
	CenterOut
	EdgesIn
	Split
	PingPong
	Random
	// Positional scales the normalised position by (n-1)/n so the last
	// member does not share the first member's offset.
	Positional
	Custom
)

var strategyNames = [...]string{
	Unified:    "UNIFIED",
	Linear:     "LINEAR",
	Reverse:    "REVERSE",
	CenterOut:  "CENTER_OUT",
	EdgesIn:    "EDGES_IN",
	Split:      "SPLIT",
	PingPong:   "PING_PONG",
	Random:     "RANDOM",
	Positional: "POSITIONAL",
	Custom:     "CUSTOM",
}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Distribution staggers the phase of group or element members. It is a
// plain value: Seed is used by Random and Fn by Custom.
type Distribution struct {
	Strategy Strategy
	Seed     uint64
	Fn       func(position float64) float64
}

// UnifiedDistribution is the default: every member shares one phase.
var UnifiedDistribution = Distribution{Strategy: Unified}

// Of is shorthand for a distribution without parameters.
func Of(s Strategy) Distribution {
	return Distribution{Strategy: s}
}

// RandomDistribution is a fixed permutation chosen by seed.
func RandomDistribution(seed uint64) Distribution {
	return Distribution{Strategy: Random, Seed: seed}
}

// CustomDistribution maps normalised position through fn.
func CustomDistribution(fn func(float64) float64) Distribution {
	return Distribution{Strategy: Custom, Fn: fn}
}

func (d Distribution) String() string {
	if d.Strategy == Random {
		return fmt.Sprintf("RANDOM(%d)", d.Seed)
	}
	return d.Strategy.String()
}

// HasSpread is false only for Unified.
func (d Distribution) HasSpread() bool {
	return d.Strategy != Unified
}

// Triangle reports whether windowing runs on a triangle-remapped phase.
func (d Distribution) Triangle() bool {
	return d.Strategy == PingPong
}

// DistinctSlots is the number of unique offsets for a group of size n.
func (d Distribution) DistinctSlots(n int) int {
	if n < 1 {
		return 1
	}
	switch d.Strategy {
	case Unified:
		return 1
	case CenterOut, EdgesIn, Split:
		return (n + 1) / 2
	}
	return n
}

// Offset returns the phase offset in [0,1) of member index at normalised
// position in a group of n.
func (d Distribution) Offset(index int, position float64, n int) float64 {
	if n <= 1 {
		return 0
	}
	index = max(0, min(index, n-1))
	edge := min(index, n-1-index)
	slots := float64(d.DistinctSlots(n))

	switch d.Strategy {
	case Unified:
		return 0
	case Linear, PingPong:
		return float64(index) / float64(n)
	case Reverse:
		return float64(n-1-index) / float64(n)
	case CenterOut:
		return (slots - 1 - float64(edge)) / slots
	case EdgesIn, Split:
		return float64(edge) / slots
	case Random:
		perm := rand.New(rand.NewPCG(d.Seed, d.Seed^0x5851f42d4c957f2d)).Perm(n)
		return float64(perm[index]) / float64(n)
	case Positional:
		return clampUnit(position * float64(n-1) / float64(n))
	case Custom:
		if d.Fn == nil {
			return 0
		}
		return clampUnit(d.Fn(position))
	}
	return 0
}

// Context builds the evaluation context for one member.
func (d Distribution) Context(index int, position float64, n int) Context {
	return Context{
		GroupSize:          n,
		MemberIndex:        index,
		DistributionOffset: d.Offset(index, position, n),
		HasSpread:          d.HasSpread() && n > 1,
		DistinctSlots:      d.DistinctSlots(n),
		TrianglePhase:      d.Triangle(),
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}

// ParseDistribution reads a strategy name, case-insensitively. RANDOM may
// carry a seed as RANDOM:42 or RANDOM(42). Custom strategies have no text
// form.
func ParseDistribution(s string) (Distribution, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	seed := ""
	if i := strings.IndexAny(name, ":("); i >= 0 {
		name, seed = name[:i], strings.TrimSuffix(name[i+1:], ")")
	}
	name = strings.ReplaceAll(name, "-", "_")
	for st, n := range strategyNames {
		if n != name || Strategy(st) == Custom {
			continue
		}
		d := Of(Strategy(st))
		if seed != "" {
			if d.Strategy != Random {
				return Distribution{}, fmt.Errorf("distribution %s takes no seed", n)
			}
			v, err := strconv.ParseUint(seed, 10, 64)
			if err != nil {
				return Distribution{}, fmt.Errorf("distribution %q: %w", s, err)
			}
			d.Seed = v
		}
		return d, nil
	}
	return Distribution{}, fmt.Errorf("unknown distribution %q", s)
}

// ElementMode chooses how a group effect expands into composite fixtures.
type ElementMode int

const (
	// PerFixture repeats the element chase inside every member fixture.
	PerFixture ElementMode = iota
	// Flat runs one chase across every element of every member.
	Flat
)

func (m ElementMode) String() string {
	if m == Flat {
		return "FLAT"
	}
	return "PER_FIXTURE"
}

func ParseElementMode(s string) (ElementMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PER_FIXTURE":
		return PerFixture, nil
	case "FLAT":
		return Flat, nil
	}
	return PerFixture, fmt.Errorf("unknown element mode %q", s)
}

// ElementFilter selects which elements of a composite fixture are driven.
type ElementFilter int

const (
	AllElements ElementFilter = iota
	OddElements
	EvenElements
	FirstHalf
	SecondHalf
)

var filterNames = [...]string{
	AllElements:  "ALL",
	OddElements:  "ODD",
	EvenElements: "EVEN",
	FirstHalf:    "FIRST_HALF",
	SecondHalf:   "SECOND_HALF",
}

func (f ElementFilter) String() string {
	if f >= 0 && int(f) < len(filterNames) {
		return filterNames[f]
	}
	return fmt.Sprintf("ElementFilter(%d)", int(f))
}

// Keep reports whether local element k of n passes the filter. Indexes are
// 0-based, so ODD keeps the second, fourth, ... element.
func (f ElementFilter) Keep(k, n int) bool {
	switch f {
	case OddElements:
		return k%2 == 1
	case EvenElements:
		return k%2 == 0
	case FirstHalf:
		return k < n/2
	case SecondHalf:
		return k >= n/2
	}
	return true
}

func ParseElementFilter(s string) (ElementFilter, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return AllElements, nil
	}
	for i, n := range filterNames {
		if n == name {
			return ElementFilter(i), nil
		}
	}
	return AllElements, fmt.Errorf("unknown element filter %q", s)
}
