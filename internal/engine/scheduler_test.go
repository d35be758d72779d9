package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
	"github.com/cjcormack/lighting7-sub001/internal/colour"
	"github.com/cjcormack/lighting7-sub001/internal/fixture"
	"github.com/cjcormack/lighting7-sub001/internal/fx"
)

const rig = `
types:
  par:  {channels: [dimmer, red, green, blue]}
  head: {channels: [red, green, blue]}
  bar:  {channels: [dimmer], heads: {type: head, count: 4}}
  mover: {channels: [pan, tilt]}
fixtures:
  - {key: par1, type: par, universe: 0, address: 1}
  - {key: par2, type: par, universe: 0, address: 5}
  - {key: par3, type: par, universe: 0, address: 9}
  - {key: par4, type: par, universe: 0, address: 13}
  - {key: bar1, type: bar, universe: 1, address: 1}
  - {key: bar2, type: bar, universe: 1, address: 14}
  - {key: mh1, type: mover, universe: 0, address: 100}
  - {key: mh2, type: mover, universe: 0, address: 102}
groups:
  - {name: pars, members: [par1, par2, par3, par4]}
  - {name: bars, members: [bar1, bar2]}
  - name: movers
    members:
      - mh1
      - {fixture: mh2, invert: true, pan_offset: 5}
`

type chanKey struct{ universe, channel int }

// memStore is a controller over an in-memory universe set.
type memStore struct {
	mu        sync.Mutex
	committed map[chanKey]uint8
	commits   int
}

func (m *memStore) Open() fixture.Transaction {
	return &memTxn{store: m, staged: map[chanKey]uint8{}}
}

func (m *memStore) value(u, ch int) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[chanKey{u, ch}]
}

type memTxn struct {
	store  *memStore
	staged map[chanKey]uint8
}

func (t *memTxn) Get(u, ch int) uint8 {
	if v, ok := t.staged[chanKey{u, ch}]; ok {
		return v
	}
	return t.store.value(u, ch)
}

func (t *memTxn) Set(u, ch int, v uint8, _ int) {
	t.staged[chanKey{u, ch}] = v
}

func (t *memTxn) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, v := range t.staged {
		t.store.committed[k] = v
	}
	t.store.commits++
	return nil
}

func setupTest(t testing.TB) (*Scheduler, *memStore) {
	t.Helper()
	p, err := fixture.ParsePatch([]byte(rig))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := p.Build()
	if err != nil {
		t.Fatal(err)
	}
	store := &memStore{committed: map[chanKey]uint8{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, store, WithLogger(logger), WithPalette(colour.NewPalette(colour.Red))), store
}

func tick(n int64) clock.Tick {
	return clock.Tick{Count: n, InBeat: int(n % clock.TicksPerBeat), BPM: 120}
}

func add(t *testing.T, s *Scheduler, req AddRequest) int64 {
	t.Helper()
	id, err := s.Add(req)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func dist(st fx.Strategy) *fx.Distribution {
	d := fx.Of(st)
	return &d
}

func latest(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	default:
		t.Fatal("no snapshot published")
		return Snapshot{}
	}
}

func TestAddThenRemoveLeavesNoActiveIDs(t *testing.T) {
	s, store := setupTest(t)
	snaps, cancel := s.Subscribe()
	defer cancel()

	id := add(t, s, AddRequest{Effect: fx.Static{Level: 9}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	if err := s.Remove(id); err != nil {
		t.Fatal(err)
	}
	if snap := latest(t, snaps); len(snap.ActiveIDs) != 0 || len(snap.Effects) != 0 {
		t.Errorf("snapshot after remove = %+v", snap)
	}
	if err := s.Remove(id); !errors.Is(err, ErrEffectNotFound) {
		t.Errorf("second Remove err = %v", err)
	}

	s.ProcessTick(tick(0))
	if store.commits != 0 {
		t.Errorf("empty table committed %d times", store.commits)
	}
}

func TestGroupChaseFiresInOrder(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{
		Effect:       fx.StaticColour{Colour: colour.Red},
		Target:       fx.Colour(fx.GroupRef("pars")),
		Timing:       fx.Timing{Division: 1},
		Distribution: dist(fx.Linear),
	})

	for k := 0; k < 4; k++ {
		s.ProcessTick(tick(int64(k * clock.TicksPerBeat / 4)))
		for i := 0; i < 4; i++ {
			red := store.value(0, 2+4*i)
			want := uint8(0)
			if i == k {
				want = 255
			}
			if red != want {
				t.Errorf("step %d: par%d red = %d, want %d", k, i+1, red, want)
			}
		}
	}
}

func TestPausedInstanceKeepsLastPhase(t *testing.T) {
	s, store := setupTest(t)
	id := add(t, s, AddRequest{Effect: fx.Ramp{Max: 240}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})

	s.ProcessTick(tick(3))
	in, _ := s.Get(id)
	phase, level := in.LastPhase(), store.value(0, 1)
	if phase != 0.125 || level != 30 {
		t.Fatalf("phase %v level %d after tick 3", phase, level)
	}

	if err := s.Pause(id); err != nil {
		t.Fatal(err)
	}
	for n := int64(4); n < 10; n++ {
		s.ProcessTick(tick(n))
	}
	if in.LastPhase() != phase || store.value(0, 1) != level {
		t.Errorf("paused effect moved: phase %v level %d", in.LastPhase(), store.value(0, 1))
	}

	if err := s.Resume(id); err != nil {
		t.Fatal(err)
	}
	s.ProcessTick(tick(12))
	if in.LastPhase() != 0.5 {
		t.Errorf("phase after resume = %v", in.LastPhase())
	}
}

func TestCompositeFixtureExpandsWithFilter(t *testing.T) {
	s, store := setupTest(t)
	store.committed[chanKey{1, 2}] = 77 // bar1 head 1 red

	add(t, s, AddRequest{
		Effect:        fx.StaticColour{Colour: colour.Red},
		Target:        fx.Colour(fx.FixtureRef("bar1")),
		Distribution:  dist(fx.Linear),
		ElementFilter: fx.OddElements,
	})
	s.ProcessTick(tick(6)) // phase 0.25

	if got := store.value(1, 5); got != 255 {
		t.Errorf("head 2 red = %d, want 255", got)
	}
	if got := store.value(1, 11); got != 0 {
		t.Errorf("head 4 red = %d, want 0", got)
	}
	if got := store.value(1, 2); got != 77 {
		t.Errorf("filtered head 1 red = %d, want untouched 77", got)
	}
}

func TestGroupElementModes(t *testing.T) {
	headRed := func(bar, head int) (int, int) { return 1, 2 + 13*bar + 3*head }

	t.Run("per fixture", func(t *testing.T) {
		s, store := setupTest(t)
		add(t, s, AddRequest{
			Effect:       fx.StaticColour{Colour: colour.Red},
			Target:       fx.Colour(fx.GroupRef("bars")),
			Distribution: dist(fx.Linear),
			ElementMode:  fx.PerFixture,
		})
		s.ProcessTick(tick(6))
		for bar := 0; bar < 2; bar++ {
			for head := 0; head < 4; head++ {
				want := uint8(0)
				if head == 1 {
					want = 255
				}
				if got := store.value(headRed(bar, head)); got != want {
					t.Errorf("bar%d head %d red = %d, want %d", bar+1, head+1, got, want)
				}
			}
		}
	})

	t.Run("flat", func(t *testing.T) {
		s, store := setupTest(t)
		add(t, s, AddRequest{
			Effect:       fx.StaticColour{Colour: colour.Red},
			Target:       fx.Colour(fx.GroupRef("bars")),
			Distribution: dist(fx.Linear),
			ElementMode:  fx.Flat,
		})
		s.ProcessTick(tick(12)) // phase 0.5: slot 4 of 8
		for bar := 0; bar < 2; bar++ {
			for head := 0; head < 4; head++ {
				want := uint8(0)
				if bar == 1 && head == 0 {
					want = 255
				}
				if got := store.value(headRed(bar, head)); got != want {
					t.Errorf("bar%d head %d red = %d, want %d", bar+1, head+1, got, want)
				}
			}
		}
	})

	t.Run("dimmer applies directly", func(t *testing.T) {
		s, store := setupTest(t)
		add(t, s, AddRequest{Effect: fx.Static{Level: 180}, Target: fx.Slider(fx.GroupRef("bars"), "dimmer")})
		s.ProcessTick(tick(0))
		if store.value(1, 1) != 180 || store.value(1, 14) != 180 {
			t.Errorf("bar dimmers = %d, %d", store.value(1, 1), store.value(1, 14))
		}
	})
}

func TestMemberMetaAdjustsPosition(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{Effect: fx.StaticPosition{Pan: 50, Tilt: 60}, Target: fx.Position(fx.GroupRef("movers"))})
	s.ProcessTick(tick(0))

	if store.value(0, 100) != 50 || store.value(0, 101) != 60 {
		t.Errorf("mh1 = %d/%d", store.value(0, 100), store.value(0, 101))
	}
	if store.value(0, 102) != 210 || store.value(0, 103) != 60 {
		t.Errorf("mh2 = %d/%d, want mirrored pan 210", store.value(0, 102), store.value(0, 103))
	}
}

func TestFailingEffectIsIsolated(t *testing.T) {
	s, store := setupTest(t)
	boom := fx.CustomDistribution(func(float64) float64 { panic("boom") })
	add(t, s, AddRequest{
		Effect:       fx.StaticColour{Colour: colour.Blue},
		Target:       fx.Colour(fx.GroupRef("pars")),
		Distribution: &boom,
	})
	add(t, s, AddRequest{Effect: fx.Static{Level: 99}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})

	s.ProcessTick(tick(0))
	if store.commits != 1 {
		t.Errorf("commits = %d", store.commits)
	}
	if got := store.value(0, 1); got != 99 {
		t.Errorf("second effect not applied: dimmer = %d", got)
	}
}

func TestShapeMismatchIsIgnored(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{Effect: fx.Static{Level: 50}, Target: fx.Colour(fx.FixtureRef("par1"))})
	add(t, s, AddRequest{Effect: fx.Static{Level: 60}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	s.ProcessTick(tick(0))
	if store.value(0, 1) != 60 || store.value(0, 2) != 0 {
		t.Errorf("dimmer %d red %d", store.value(0, 1), store.value(0, 2))
	}
}

// Two effects on the same property: the later one in id order wins. This
// is the documented behaviour, not an arbitration.
func TestLastAddedWinsSameProperty(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{Effect: fx.Static{Level: 10}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	add(t, s, AddRequest{Effect: fx.Static{Level: 200}, Target: fx.Slider(fx.GroupRef("pars"), "dimmer")})
	s.ProcessTick(tick(0))
	if got := store.value(0, 1); got != 200 {
		t.Errorf("par1 dimmer = %d, want 200", got)
	}
}

func TestBlendReadsCommittedValue(t *testing.T) {
	s, store := setupTest(t)
	store.committed[chanKey{0, 1}] = 100
	add(t, s, AddRequest{Effect: fx.Static{Level: 20}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer"), Blend: fx.Additive})
	add(t, s, AddRequest{Effect: fx.Static{Level: 30}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer"), Blend: fx.Additive})
	s.ProcessTick(tick(0))
	if got := store.value(0, 1); got != 150 {
		t.Errorf("stacked additive = %d, want 150", got)
	}
}

func TestStartOnBeatWaitsForDownbeat(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{
		Effect: fx.Static{Level: 70},
		Target: fx.Slider(fx.FixtureRef("par2"), "dimmer"),
		Timing: fx.Timing{Division: 1, StartOnBeat: true},
	})
	s.ProcessTick(tick(5))
	if store.value(0, 5) != 0 {
		t.Fatal("started before the downbeat")
	}
	s.ProcessTick(tick(24))
	if store.value(0, 5) != 70 {
		t.Error("did not start on the downbeat")
	}
}

func TestQueriesAndClears(t *testing.T) {
	s, _ := setupTest(t)
	groupFx := add(t, s, AddRequest{Effect: fx.Static{}, Target: fx.Slider(fx.GroupRef("pars"), "dimmer")})
	par1Fx := add(t, s, AddRequest{Effect: fx.Static{}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	add(t, s, AddRequest{Effect: fx.Static{}, Target: fx.Slider(fx.FixtureRef("par2"), "dimmer")})
	barFx := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.FixtureRef("bar1"))})
	headFx := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.FixtureRef("bar1.3"))})

	ids := func(list []*fx.Instance) []int64 {
		var out []int64
		for _, in := range list {
			out = append(out, in.ID)
		}
		return out
	}
	if got := ids(s.ByFixture("par1")); len(got) != 2 || got[0] != groupFx || got[1] != par1Fx {
		t.Errorf("ByFixture(par1) = %v", got)
	}
	if got := ids(s.ByFixture("bar1.2")); len(got) != 2 || got[0] != barFx || got[1] != headFx {
		t.Errorf("ByFixture(bar1.2) = %v", got)
	}
	if got := ids(s.ByTarget(fx.GroupRef("pars"))); len(got) != 1 || got[0] != groupFx {
		t.Errorf("ByTarget(pars) = %v", got)
	}

	if _, err := s.Add(AddRequest{Effect: fx.Static{}, Target: fx.Colour(fx.FixtureRef("ghost"))}); !errors.Is(err, fixture.ErrFixtureNotFound) {
		t.Errorf("Add to unknown fixture err = %v", err)
	}
	if _, err := s.Add(AddRequest{Effect: fx.Static{}, Target: fx.Colour(fx.GroupRef("ghosts"))}); !errors.Is(err, fixture.ErrGroupNotFound) {
		t.Errorf("Add to unknown group err = %v", err)
	}

	if n := s.ClearFixture("bar1"); n != 2 {
		t.Errorf("ClearFixture(bar1) removed %d", n)
	}
	if n := s.ClearGroup("pars"); n != 1 {
		t.Errorf("ClearGroup(pars) removed %d", n)
	}
	if n := s.PauseAll(); n != 2 {
		t.Errorf("PauseAll changed %d", n)
	}
	if n := s.ResumeAll(); n != 2 {
		t.Errorf("ResumeAll changed %d", n)
	}
	if n := s.Clear(); n != 2 || len(s.List()) != 0 {
		t.Errorf("Clear removed %d, left %d", n, len(s.List()))
	}
	if err := s.Pause(groupFx); !errors.Is(err, ErrEffectNotFound) {
		t.Errorf("Pause on removed effect err = %v", err)
	}
}

func TestUpdateSwapsOrMutates(t *testing.T) {
	s, _ := setupTest(t)
	id := add(t, s, AddRequest{Effect: fx.Static{Level: 1}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	before, _ := s.Get(id)

	offset := 0.5
	mutated, err := s.Update(id, UpdateRequest{PhaseOffset: &offset})
	if err != nil {
		t.Fatal(err)
	}
	if mutated != before || before.PhaseOffset() != 0.5 {
		t.Error("phase offset update should mutate in place")
	}

	blend := fx.Max
	swapped, err := s.Update(id, UpdateRequest{Effect: fx.Sine{Max: 255}, Blend: &blend})
	if err != nil {
		t.Fatal(err)
	}
	if swapped == before || swapped.ID != id || swapped.Blend != fx.Max || swapped.PhaseOffset() != 0.5 {
		t.Errorf("swap: same=%v id=%d blend=%v offset=%v", swapped == before, swapped.ID, swapped.Blend, swapped.PhaseOffset())
	}
	if before.Blend != fx.Override || before.Effect.Name() != "static" {
		t.Error("old instance value was modified")
	}
	if got, _ := s.Get(id); got != swapped {
		t.Error("table does not hold the swapped instance")
	}

	if _, err := s.Update(999, UpdateRequest{}); !errors.Is(err, ErrEffectNotFound) {
		t.Errorf("Update(999) err = %v", err)
	}
}

func TestSnapshotLabels(t *testing.T) {
	s, _ := setupTest(t)
	plain := add(t, s, AddRequest{Effect: fx.Static{}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
	group := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.GroupRef("pars")), Distribution: dist(fx.Linear)})
	bars := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.GroupRef("bars")), ElementMode: fx.Flat})
	bar := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.FixtureRef("bar1"))})

	s.ProcessTick(tick(3))
	snap := s.Snapshot()
	if snap.Tick != 3 || snap.BPM != 120 || len(snap.ActiveIDs) != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}

	tests := []struct {
		id                      int64
		dist, mode, filter, tgt string
	}{
		{plain, "", "", "", "par1"},
		{group, "LINEAR", "", "", "group:pars"},
		{bars, "UNIFIED", "FLAT", "ALL", "group:bars"},
		{bar, "UNIFIED", "", "ALL", "bar1"},
	}
	for _, tt := range tests {
		sum := snap.Effects[tt.id]
		if sum.Distribution != tt.dist || sum.ElementMode != tt.mode || sum.ElementFilter != tt.filter || sum.Target != tt.tgt {
			t.Errorf("effect %d summary = %+v", tt.id, sum)
		}
	}
	if sum := snap.Effects[plain]; sum.Phase != 0.125 || !sum.Running || sum.Blend != "OVERRIDE" {
		t.Errorf("plain summary = %+v", sum)
	}
}

// countingResolver counts group lookups.
type countingResolver struct {
	Resolver
	groups int
}

func (r *countingResolver) Group(name string) (*fixture.Group, error) {
	r.groups++
	return r.Resolver.Group(name)
}

func TestSnapshotReusesTickShapes(t *testing.T) {
	s, _ := setupTest(t)
	r := &countingResolver{Resolver: s.resolver}
	s.resolver = r
	id := add(t, s, AddRequest{Effect: fx.StaticColour{}, Target: fx.Colour(fx.GroupRef("bars")), ElementMode: fx.Flat})
	snaps, cancel := s.Subscribe()
	defer cancel()

	r.groups = 0
	for i := int64(0); i < 5; i++ {
		s.ProcessTick(tick(i))
	}
	if r.groups != 5 {
		t.Errorf("group lookups over 5 ticks = %d, want 5", r.groups)
	}
	if sum := latest(t, snaps).Effects[id]; sum.ElementMode != "FLAT" || sum.Distribution != "UNIFIED" {
		t.Errorf("summary = %+v", sum)
	}

	if err := s.Remove(id); err != nil {
		t.Fatal(err)
	}
	if len(s.shapes) != 0 {
		t.Errorf("shape cache kept %d entries after remove", len(s.shapes))
	}
}

func TestSubscriberNeverBlocks(t *testing.T) {
	s, _ := setupTest(t)
	snaps, cancel := s.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Add(AddRequest{Effect: fx.Static{}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Add blocked on a slow subscriber")
	}
	if snap := latest(t, snaps); len(snap.ActiveIDs) != 50 {
		t.Errorf("latest snapshot has %d ids", len(snap.ActiveIDs))
	}

	cancel()
	if _, ok := <-snaps; ok {
		t.Error("channel still open after cancel")
	}
	cancel()
}

func TestRunProcessesTicks(t *testing.T) {
	s, store := setupTest(t)
	add(t, s, AddRequest{Effect: fx.Static{Level: 5}, Target: fx.Slider(fx.FixtureRef("par1"), "dimmer")})

	ticks := make(chan clock.Tick, 3)
	ticks <- tick(0)
	ticks <- tick(1)
	close(ticks)
	if err := s.Run(context.Background(), ticks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.commits != 2 {
		t.Errorf("commits = %d", store.commits)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, make(chan clock.Tick)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run after cancel = %v", err)
	}
}

func TestConcurrentControlDuringTicks(t *testing.T) {
	s, _ := setupTest(t)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for n := int64(0); n < 200; n++ {
			s.ProcessTick(tick(n))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id, err := s.Add(AddRequest{Effect: fx.Sine{Max: 255}, Target: fx.Colour(fx.GroupRef("bars"))})
			if err != nil {
				t.Error(err)
				return
			}
			if i%2 == 0 {
				s.Pause(id)
			} else {
				s.Remove(id)
			}
		}
	}()
	wg.Wait()
	if got := len(s.List()); got != 100 {
		t.Errorf("left %d effects, want 100", got)
	}
}

func BenchmarkProcessTick(b *testing.B) {
	s, _ := setupTest(b)
	for i := 0; i < 20; i++ {
		s.Add(AddRequest{Effect: fx.Rainbow{Saturation: 1, Value: 1}, Target: fx.Colour(fx.GroupRef("bars")), Distribution: dist(fx.Linear), ElementMode: fx.Flat})
		s.Add(AddRequest{Effect: fx.StaticColour{Colour: colour.Red}, Target: fx.Colour(fx.GroupRef("pars")), Distribution: dist(fx.CenterOut)})
		s.Add(AddRequest{Effect: fx.Circle{Pan: 128, Tilt: 128, PanRadius: 60, TiltRadius: 30}, Target: fx.Position(fx.GroupRef("movers"))})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ProcessTick(tick(int64(i)))
	}
}
