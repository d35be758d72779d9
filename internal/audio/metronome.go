// Package audio plays a metronome click on the tempo clock's beats.
package audio

import (
	"context"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
)

const (
	sampleRate   = 44100
	channelCount = 2 // stereo
	bitDepth     = 2 // 16-bit

	clickFreq  = 1000.0
	accentFreq = 1600.0
	clickDecay = 0.9985 // per sample, roughly 15ms to -40dB
	silence    = 0.001
)

// click is one decaying sine burst.
type click struct {
	frequency float64
	phase     float64
	envelope  float64
}

// generator mixes clicks into 16-bit stereo PCM.
type generator struct {
	mu     sync.Mutex
	clicks []*click
	volume float64
}

func (g *generator) trigger(accent bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := &click{frequency: clickFreq, envelope: 0.7}
	if accent {
		c.frequency, c.envelope = accentFreq, 1
	}
	g.clicks = append(g.clicks, c)
}

func (g *generator) Read(buf []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	numSamples := len(buf) / (channelCount * bitDepth)
	for i := 0; i < numSamples; i++ {
		var sample float64
		for _, c := range g.clicks {
			sample += math.Sin(2*math.Pi*c.phase) * c.envelope
			c.phase += c.frequency / sampleRate
			if c.phase >= 1.0 {
				c.phase -= 1.0
			}
			c.envelope *= clickDecay
		}
		sample = max(-1, min(1, sample*g.volume))

		s := int16(sample * 32767)
		idx := i * channelCount * bitDepth
		buf[idx] = byte(s)
		buf[idx+1] = byte(s >> 8)
		buf[idx+2] = byte(s)
		buf[idx+3] = byte(s >> 8)
	}

	// Drop finished clicks.
	live := g.clicks[:0]
	for _, c := range g.clicks {
		if c.envelope >= silence {
			live = append(live, c)
		}
	}
	clear(g.clicks[len(live):])
	g.clicks = live

	return numSamples * channelCount * bitDepth, nil
}

func (g *generator) active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clicks)
}

// Metronome clicks on every beat, accenting the first beat of each bar.
type Metronome struct {
	gen         *generator
	otoCtx      *oto.Context
	player      *oto.Player
	beatsPerBar int
}

// NewMetronome opens the default audio device.
func NewMetronome(beatsPerBar int, volume float64) (*Metronome, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	m := newMetronome(beatsPerBar, volume)
	m.otoCtx = otoCtx
	m.player = otoCtx.NewPlayer(m.gen)
	m.player.Play()
	return m, nil
}

func newMetronome(beatsPerBar int, volume float64) *Metronome {
	if beatsPerBar < 1 {
		beatsPerBar = 4
	}
	return &Metronome{
		gen:         &generator{volume: max(0, min(1, volume))},
		beatsPerBar: beatsPerBar,
	}
}

// Accent reports whether a tick starts a bar.
func (m *Metronome) Accent(t clock.Tick) bool {
	beat := t.Count / clock.TicksPerBeat
	return t.IsBeat() && beat%int64(m.beatsPerBar) == 0
}

// Click sounds one beat.
func (m *Metronome) Click(accent bool) {
	m.gen.trigger(accent)
}

// Run clicks on every beat tick until ctx is done or beats is closed.
func (m *Metronome) Run(ctx context.Context, beats <-chan clock.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-beats:
			if !ok {
				return
			}
			if t.IsBeat() {
				m.Click(m.Accent(t))
			}
		}
	}
}

// SetVolume sets the click volume (0.0 - 1.0).
func (m *Metronome) SetVolume(vol float64) {
	m.gen.mu.Lock()
	defer m.gen.mu.Unlock()
	m.gen.volume = max(0, min(1, vol))
}

// Close pauses playback.
func (m *Metronome) Close() error {
	// As of oto v3.4 the player needs no explicit close.
	if m.player != nil {
		m.player.Pause()
	}
	return nil
}
