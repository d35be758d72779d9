package audio

import (
	"context"
	"testing"
	"time"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
)

func peak(buf []byte) int16 {
	var p int16
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		if s < 0 {
			s = -s
		}
		p = max(p, s)
	}
	return p
}

func TestGeneratorSilentUntilClick(t *testing.T) {
	m := newMetronome(4, 1)
	buf := make([]byte, 4096)
	if n, _ := m.gen.Read(buf); n != len(buf) || peak(buf) != 0 {
		t.Fatalf("idle output: n=%d peak=%d", n, peak(buf))
	}

	m.Click(false)
	m.gen.Read(buf)
	quiet := peak(buf)
	if quiet == 0 {
		t.Fatal("click produced no sound")
	}

	// A click decays and is dropped within a fraction of a second.
	long := make([]byte, sampleRate*channelCount*bitDepth/4)
	m.gen.Read(long)
	if m.gen.active() != 0 {
		t.Errorf("%d clicks still active", m.gen.active())
	}

	m.Click(true)
	m.gen.Read(buf)
	if peak(buf) <= quiet {
		t.Errorf("accent peak %d not louder than %d", peak(buf), quiet)
	}
}

func TestReadWholeFrames(t *testing.T) {
	m := newMetronome(4, 1)
	if n, _ := m.gen.Read(make([]byte, 7)); n != 4 {
		t.Errorf("read %d bytes of a partial frame", n)
	}
}

func TestAccent(t *testing.T) {
	m := newMetronome(3, 0.5)
	var accents []int64
	for beat := int64(0); beat < 7; beat++ {
		tick := clock.Tick{Count: beat * clock.TicksPerBeat}
		if m.Accent(tick) {
			accents = append(accents, beat)
		}
	}
	if len(accents) != 3 || accents[1] != 3 || accents[2] != 6 {
		t.Errorf("accents on beats %v", accents)
	}
	if m.Accent(clock.Tick{Count: 1, InBeat: 1}) {
		t.Error("accent off the beat")
	}
	if newMetronome(0, 1).beatsPerBar != 4 {
		t.Error("beats per bar not defaulted")
	}
}

func TestRun(t *testing.T) {
	m := newMetronome(4, 1)
	beats := make(chan clock.Tick, 2)
	beats <- clock.Tick{Count: 0}
	beats <- clock.Tick{Count: 5, InBeat: 5}
	close(beats)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Run(ctx, beats)
	if m.gen.active() != 1 {
		t.Errorf("active clicks = %d, want 1", m.gen.active())
	}
}
