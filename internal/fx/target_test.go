package fx

import (
	"testing"
	"time"

	"github.com/cjcormack/lighting7-sub001/internal/colour"
	"github.com/cjcormack/lighting7-sub001/internal/fixture"
)

type chanKey struct{ universe, channel int }

// memTxn is an in-memory transaction with read-your-writes.
type memTxn map[chanKey]uint8

func (m memTxn) Get(u, ch int) uint8              { return m[chanKey{u, ch}] }
func (m memTxn) Set(u, ch int, v uint8, fade int) { m[chanKey{u, ch}] = v }
func (m memTxn) Commit() error                    { return nil }

func mustFixture(t *testing.T, key string, channels []string, opts ...fixture.TypeOption) *fixture.Fixture {
	t.Helper()
	typ, err := fixture.NewType(key+"-type", channels, opts...)
	if err != nil {
		t.Fatal(err)
	}
	f, err := fixture.New(key, typ, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestBlendLaws(t *testing.T) {
	modes := []BlendMode{Override, Additive, Multiply, Max, Min}
	for old := 0; old < 256; old += 15 {
		for v := 0; v < 256; v += 17 {
			o, n := uint8(old), uint8(v)
			if got := Override.Byte(o, n); got != n {
				t.Fatalf("OVERRIDE(%d,%d) = %d", o, n, got)
			}
			for _, m := range modes {
				if got := m.Byte(o, n); got != m.Byte(o, n) {
					t.Fatalf("%s not deterministic", m)
				}
			}
		}
		o := uint8(old)
		if Max.Byte(o, o) != o || Min.Byte(o, o) != o {
			t.Errorf("MAX/MIN not idempotent at %d", o)
		}
	}

	// ADDITIVE and MULTIPLY are not idempotent when new == old.
	if got := Additive.Byte(100, 100); got != 200 {
		t.Errorf("ADDITIVE(100,100) = %d, want 200", got)
	}
	if got := Multiply.Byte(100, 100); got != 39 {
		t.Errorf("MULTIPLY(100,100) = %d, want 39", got)
	}
	if Additive.Byte(200, 100) != 255 {
		t.Error("ADDITIVE does not saturate")
	}
	if Multiply.Byte(200, 255) != 200 {
		t.Error("MULTIPLY by full is not identity")
	}
	if Max.Byte(10, 90) != 90 || Min.Byte(10, 90) != 10 {
		t.Error("MAX/MIN wrong")
	}

	// Position additive is centred on 128.
	if got := Additive.Axis(100, 128); got != 100 {
		t.Errorf("axis ADDITIVE(100,128) = %d", got)
	}
	if got := Additive.Axis(100, 0); got != 0 {
		t.Errorf("axis ADDITIVE(100,0) = %d", got)
	}
	if got := Additive.Axis(200, 250); got != 255 {
		t.Errorf("axis ADDITIVE(200,250) = %d", got)
	}
	if got := Max.Axis(3, 9); got != 9 {
		t.Errorf("axis MAX = %d", got)
	}

	if m, err := ParseBlendMode("multiply"); err != nil || m != Multiply {
		t.Errorf("ParseBlendMode = %v, %v", m, err)
	}
	if _, err := ParseBlendMode("screen"); err == nil {
		t.Error("ParseBlendMode(screen) succeeded")
	}
}

func TestSliderTarget(t *testing.T) {
	f := mustFixture(t, "par", []string{"dimmer", "red", "green", "blue"})
	tgt := Slider(FixtureRef("par"), "dimmer")
	if !tgt.FixtureHasProperty(f) || Slider(FixtureRef("par"), "zoom").FixtureHasProperty(f) {
		t.Error("FixtureHasProperty wrong")
	}

	txn := memTxn{{0, 1}: 100}
	if !tgt.Apply(f, SliderValue(50), Additive, txn) || txn.Get(0, 1) != 150 {
		t.Errorf("additive slider = %d", txn.Get(0, 1))
	}
	if tgt.Apply(f, ColourValue{colour.Red}, Override, txn) {
		t.Error("colour output applied to a slider")
	}
	if txn.Get(0, 1) != 150 {
		t.Error("mismatched apply wrote a value")
	}
}

func TestColourTarget(t *testing.T) {
	f := mustFixture(t, "rgbw", []string{"red", "green", "blue", "white"})
	txn := memTxn{{0, 1}: 10, {0, 2}: 200, {0, 4}: 77}
	tgt := Colour(GroupRef("wash"))
	if !tgt.Ref().IsGroup() || Describe(tgt) != "group:wash colour" {
		t.Errorf("Describe = %q", Describe(tgt))
	}

	ok := tgt.Apply(f, ColourValue{colour.Extended{R: 50, G: 50, B: 50, W: 5}}, Max, txn)
	if !ok {
		t.Fatal("apply failed")
	}
	want := map[int]uint8{1: 50, 2: 200, 3: 50, 4: 5}
	for ch, v := range want {
		if got := txn.Get(0, ch); got != v {
			t.Errorf("channel %d = %d, want %d", ch, got, v)
		}
	}

	plain := mustFixture(t, "dim", []string{"dimmer"})
	if tgt.FixtureHasProperty(plain) || tgt.Apply(plain, ColourValue{colour.Red}, Override, txn) {
		t.Error("colour applied to a dimmer-only fixture")
	}
}

func TestPositionTarget(t *testing.T) {
	f := mustFixture(t, "mh", []string{"pan", "tilt", "dimmer"})
	txn := memTxn{{0, 1}: 100, {0, 2}: 100}
	tgt := Position(FixtureRef("mh"))
	if !tgt.Apply(f, PositionValue{Pan: 138, Tilt: 118}, Additive, txn) {
		t.Fatal("apply failed")
	}
	if txn.Get(0, 1) != 110 || txn.Get(0, 2) != 90 {
		t.Errorf("pan/tilt = %d/%d", txn.Get(0, 1), txn.Get(0, 2))
	}
}

func TestSettingTargetAlwaysOverrides(t *testing.T) {
	f := mustFixture(t, "par", []string{"dimmer", "mode"},
		fixture.WithSetting("mode", map[string]uint8{"off": 0, "auto": 100}))
	txn := memTxn{{0, 2}: 200}
	tgt := Setting(FixtureRef("par"), "mode")

	if !tgt.Apply(f, SettingValue{Option: "AUTO"}, Max, txn) || txn.Get(0, 2) != 100 {
		t.Errorf("setting = %d, want 100 despite MAX", txn.Get(0, 2))
	}
	if !tgt.Apply(f, SettingValue{}, Override, txn) || txn.Get(0, 2) != 0 {
		t.Errorf("empty option = %d", txn.Get(0, 2))
	}
	if tgt.Apply(f, SettingValue{Option: "disco"}, Override, txn) {
		t.Error("unknown option applied")
	}
	if Slider(FixtureRef("par"), "mode").FixtureHasProperty(f) {
		t.Error("setting channel reported as a slider")
	}
}

func TestAdjustForMember(t *testing.T) {
	out := AdjustForMember(PositionValue{Pan: 55, Tilt: 250}, fixture.Meta{PanOffset: 10, TiltOffset: 10, SymmetricInvert: true})
	if out != (PositionValue{Pan: 210, Tilt: 255}) {
		t.Errorf("adjusted = %v", out)
	}
	if got := AdjustForMember(SliderValue(9), fixture.Meta{PanOffset: 50}); got != SliderValue(9) {
		t.Errorf("slider adjusted to %v", got)
	}
}

func TestInstanceSwapKeepsState(t *testing.T) {
	start := time.Unix(100, 0)
	in := NewInstance(7, Static{Level: 1}, Slider(FixtureRef("a"), "dimmer"), Timing{}, Override, start)
	if in.Timing.Division != 1 || !in.Running() {
		t.Fatalf("defaults: division %v running %v", in.Timing.Division, in.Running())
	}
	in.SetPhaseOffset(1.25)
	in.SetDistribution(Of(Linear))
	in.SetElementMode(Flat)
	in.SetElementFilter(OddElements)
	in.BasePhase(0.5)
	if !in.Pause() || in.Pause() {
		t.Error("Pause should change state once")
	}

	next := in.With(Sine{Max: 9}, Timing{Division: 2}, Max)
	if next.ID != 7 || !next.StartedAt.Equal(start) || next.Target != in.Target {
		t.Errorf("identity not kept: %+v", next)
	}
	if next.Running() || next.PhaseOffset() != 0.25 || next.Distribution().Strategy != Linear ||
		next.ElementMode() != Flat || next.ElementFilter() != OddElements || next.LastPhase() != 0.75 {
		t.Error("mutable state not carried over")
	}
	if in.Effect != (Static{Level: 1}) || in.Timing.Division != 1 || in.Blend != Override {
		t.Error("With modified the original instance")
	}

	// The state is shared, so a resume through either value is seen by both.
	next.Resume()
	if !in.Running() {
		t.Error("resume not shared")
	}
}

func TestInstanceStartOnBeat(t *testing.T) {
	in := NewInstance(1, Static{}, Slider(FixtureRef("a"), "dimmer"), Timing{Division: 1, StartOnBeat: true}, Override, time.Now())
	if in.Ready(5) {
		t.Error("ready mid-beat")
	}
	if !in.Ready(0) || !in.Ready(7) {
		t.Error("not ready after the downbeat")
	}
}
