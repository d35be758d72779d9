package midiclock

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
)

type fakeClock struct {
	pulses, stops, resets, taps int
	bpm                         []float64
}

func (c *fakeClock) Pulse() clock.Tick {
	c.pulses++
	return clock.Tick{Count: int64(c.pulses - 1)}
}
func (c *fakeClock) Stop()                    { c.stops++ }
func (c *fakeClock) Reset()                   { c.resets++ }
func (c *fakeClock) SetBPM(v float64) float64 { c.bpm = append(c.bpm, v); return v }
func (c *fakeClock) Tap() float64             { c.taps++; return 0 }

var (
	timingClock = midi.Message{0xF8}
	start       = midi.Message{0xFA}
	cont        = midi.Message{0xFB}
	stop        = midi.Message{0xFC}
)

func newTestFollower(opts ...Option) (*Follower, *fakeClock) {
	c := &fakeClock{}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(c, opts...), c
}

// feed sends n clock pulses at the given tempo starting at t0 and returns
// the time of the next pulse.
func feed(f *Follower, t0 time.Time, n int, bpm float64) time.Time {
	interval := clock.IntervalFor(bpm)
	at := t0
	for i := 0; i < n; i++ {
		f.handle(timingClock, at)
		at = at.Add(interval)
	}
	return at
}

func TestPulsesOnlyWhileFollowing(t *testing.T) {
	f, c := newTestFollower()
	t0 := time.Unix(0, 0)

	at := feed(f, t0, 10, 120)
	if c.pulses != 0 || f.Following() {
		t.Fatalf("pulsed %d times before Start", c.pulses)
	}

	f.handle(start, at)
	if c.stops != 1 || c.resets != 1 || !f.Following() {
		t.Errorf("start: stops %d resets %d following %v", c.stops, c.resets, f.Following())
	}
	at = feed(f, at, 24, 120)
	if c.pulses != 24 {
		t.Errorf("pulses = %d, want 24", c.pulses)
	}

	f.handle(stop, at)
	at = feed(f, at, 5, 120)
	if c.pulses != 24 {
		t.Errorf("pulsed after Stop: %d", c.pulses)
	}

	f.handle(cont, at)
	feed(f, at, 2, 120)
	if c.resets != 1 || c.pulses != 26 {
		t.Errorf("continue: resets %d pulses %d", c.resets, c.pulses)
	}
}

func TestEstimatesTempo(t *testing.T) {
	f, c := newTestFollower()
	t0 := time.Unix(0, 0)

	at := feed(f, t0, minIntervals, 128)
	if len(c.bpm) != 0 {
		t.Fatalf("published %v before the window had enough intervals", c.bpm)
	}
	at = feed(f, at, 48, 128)
	if len(c.bpm) != 1 || c.bpm[0] != 128 || f.EstimatedBPM() != 128 {
		t.Fatalf("published %v, want [128]", c.bpm)
	}

	// A dropout clears the window rather than averaging across the gap.
	at = feed(f, at.Add(2*time.Second), 3, 90)
	if len(c.bpm) != 1 {
		t.Errorf("published across a dropout: %v", c.bpm)
	}
	feed(f, at, 2*window, 90)
	if got := c.bpm[len(c.bpm)-1]; got != 90 {
		t.Errorf("settled at %v, want 90", got)
	}
}

func TestTapPad(t *testing.T) {
	f, c := newTestFollower(WithTapPad(9, 36))
	now := time.Unix(0, 0)

	f.handle(midi.NoteOn(9, 36, 100), now)
	f.handle(midi.NoteOn(9, 36, 0), now)
	f.handle(midi.NoteOn(0, 36, 100), now)
	f.handle(midi.NoteOn(9, 38, 100), now)
	if c.taps != 1 {
		t.Errorf("taps = %d, want 1", c.taps)
	}

	anyCh, c2 := newTestFollower(WithTapPad(-1, 36))
	anyCh.handle(midi.NoteOn(3, 36, 1), now)
	if c2.taps != 1 {
		t.Error("any-channel tap ignored")
	}

	off, c3 := newTestFollower()
	off.handle(midi.NoteOn(9, 36, 100), now)
	if c3.taps != 0 {
		t.Error("tap without a pad configured")
	}
}

func TestDrivesRealClock(t *testing.T) {
	c := clock.New(100)
	f := New(c, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ticks, cancel := c.Subscribe(64)
	defer cancel()

	f.handle(start, time.Unix(0, 0))
	feed(f, time.Unix(0, 0), 30, 140)

	var last clock.Tick
	for i := 0; i < 30; i++ {
		last = <-ticks
	}
	if last.Count != 29 || last.InBeat != 5 {
		t.Errorf("last tick = %+v", last)
	}
	if c.BPM() != 140 || c.Running() {
		t.Errorf("bpm %v running %v", c.BPM(), c.Running())
	}
}
