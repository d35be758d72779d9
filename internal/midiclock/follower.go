// Package midiclock slaves the tempo clock to an external MIDI clock and
// turns a note on a pad controller into tap tempo.
package midiclock

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
)

const (
	// MIDI clock runs at the same resolution as the tempo clock.
	pulsesPerBeat = clock.TicksPerBeat
	window        = pulsesPerBeat // intervals averaged for the estimate
	minIntervals  = 6
	dropout       = 500 * time.Millisecond
)

// Clock is the part of clock.Clock the follower drives.
type Clock interface {
	Pulse() clock.Tick
	Stop()
	Reset()
	SetBPM(float64) float64
	Tap() float64
}

// Follower feeds MIDI realtime messages into a Clock. While following, each
// timing clock message is one tick and the internal timer stays stopped.
type Follower struct {
	clock  Clock
	logger *slog.Logger
	now    func() time.Time

	tapChannel int // 0-based, -1 for any
	tapNote    int // -1 disables the tap pad

	mu        sync.Mutex
	following bool
	last      time.Time
	intervals []time.Duration
	bpm       float64 // last published estimate

	port drivers.In
	stop func()
}

type Option func(*Follower)

func WithLogger(l *slog.Logger) Option {
	return func(f *Follower) { f.logger = l }
}

// WithTapPad makes a note-on of note on channel (0-based, -1 for any) tap
// the tempo.
func WithTapPad(channel, note int) Option {
	return func(f *Follower) { f.tapChannel, f.tapNote = channel, note }
}

func New(c Clock, opts ...Option) *Follower {
	f := &Follower{
		clock:      c,
		logger:     slog.Default(),
		now:        time.Now,
		tapChannel: -1,
		tapNote:    -1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Following reports whether MIDI transport is currently driving the clock.
func (f *Follower) Following() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.following
}

// EstimatedBPM returns the last tempo published from MIDI clock, or 0.
func (f *Follower) EstimatedBPM() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bpm
}

// FindInPort returns the first input whose name contains substr, ignoring
// case.
func FindInPort(substr string) (drivers.In, error) {
	lower := strings.ToLower(substr)
	for _, port := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(port.String()), lower) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", substr)
}

// Listen starts following the named input port.
func (f *Follower) Listen(portName string) error {
	port, err := FindInPort(portName)
	if err != nil {
		return err
	}
	stop, err := midi.ListenTo(port, func(msg midi.Message, _ int32) {
		f.Handle(msg)
	}, midi.UseTimeCode(), midi.HandleError(func(listenErr error) {
		f.logger.Warn("midi: listener error", "device", port.String(), "err", listenErr)
	}))
	if err != nil {
		return fmt.Errorf("listen %q: %w", port.String(), err)
	}
	f.mu.Lock()
	f.port, f.stop = port, stop
	f.mu.Unlock()
	f.logger.Info("midi: following", "device", port.String())
	return nil
}

// Close stops listening. The clock is left where it is.
func (f *Follower) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		f.stop()
		f.stop = nil
	}
	if f.port != nil {
		_ = f.port.Close()
		f.port = nil
	}
}

// Handle processes one MIDI message.
func (f *Follower) Handle(msg midi.Message) {
	f.handle(msg, f.now())
}

func (f *Follower) handle(msg midi.Message, at time.Time) {
	var ch, key, vel uint8
	switch {
	case msg.Is(midi.TimingClockMsg):
		f.pulse(at)
	case msg.Is(midi.StartMsg):
		f.start(true)
	case msg.Is(midi.ContinueMsg):
		f.start(false)
	case msg.Is(midi.StopMsg):
		f.mu.Lock()
		f.following = false
		f.mu.Unlock()
		f.logger.Info("midi: transport stopped")
	case msg.GetNoteStart(&ch, &key, &vel):
		if f.tapNote >= 0 && int(key) == f.tapNote && (f.tapChannel < 0 || int(ch) == f.tapChannel) {
			bpm := f.clock.Tap()
			f.logger.Debug("midi: tap", "bpm", bpm)
		}
	}
}

func (f *Follower) start(reset bool) {
	f.clock.Stop()
	if reset {
		f.clock.Reset()
	}
	f.mu.Lock()
	f.following = true
	f.mu.Unlock()
	f.logger.Info("midi: transport started", "reset", reset)
}

func (f *Follower) pulse(at time.Time) {
	f.mu.Lock()
	if !f.last.IsZero() {
		d := at.Sub(f.last)
		if d <= 0 || d > dropout {
			f.intervals = f.intervals[:0]
		} else {
			f.intervals = append(f.intervals, d)
			if len(f.intervals) > window {
				f.intervals = f.intervals[1:]
			}
		}
	}
	f.last = at
	bpm, publish := f.estimate()
	following := f.following
	f.mu.Unlock()

	// Publish before pulsing so the tick carries the new tempo.
	if publish {
		f.clock.SetBPM(bpm)
	}
	if following {
		f.clock.Pulse()
	}
}

// estimate averages the interval window. A new value is only published when
// it moves by at least a tenth of a BPM. Callers hold mu.
func (f *Follower) estimate() (float64, bool) {
	if len(f.intervals) < minIntervals {
		return 0, false
	}
	var sum time.Duration
	for _, d := range f.intervals {
		sum += d
	}
	avg := sum / time.Duration(len(f.intervals))
	bpm := math.Round(float64(time.Minute)/float64(avg*pulsesPerBeat)*10) / 10
	if math.Abs(bpm-f.bpm) < 0.1 {
		return bpm, false
	}
	f.bpm = bpm
	return bpm, true
}
