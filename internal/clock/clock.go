// Package clock provides the tempo clock every effect phase is derived from.
//
// The clock emits a fixed number of ticks per beat regardless of tempo, in the
// manner of a MIDI clock. Tick notifications are fanned out to subscribers on
// a best-effort basis: a subscriber that is not ready misses the tick, which
// is harmless because all timing is recomputed from the tick counter.
package clock

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TicksPerBeat = 24
	MinBPM       = 20.0
	MaxBPM       = 300.0
	DefaultBPM   = 120.0

	maxTaps   = 4
	tapExpiry = 2 * time.Second
)

// Tick is a single clock pulse.
type Tick struct {
	Count  int64     // monotonically increasing since the last Start
	InBeat int       // 0..TicksPerBeat-1, 0 marks a beat
	BPM    float64   // tempo at the time the tick was emitted
	At     time.Time // wall-clock emission time
}

// IsBeat reports whether the tick falls on a beat boundary.
func (t Tick) IsBeat() bool {
	return t.InBeat == 0
}

// State is the tempo state exposed to broadcasters and the monitor.
type State struct {
	BPM        float64 `json:"bpm"`
	Running    bool    `json:"running"`
	Tick       int64   `json:"tick"`
	TickInBeat int     `json:"tickInBeat"`
}

type subscriber struct {
	ch        chan Tick
	beatsOnly bool
}

// Clock is a tempo-driven tick generator. The zero value is not usable; use New.
type Clock struct {
	bpm     atomic.Uint64 // math.Float64bits of the current tempo
	emitted atomic.Int64  // number of ticks emitted since the last Start

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	taps    []time.Time
	subs    map[int]subscriber
	nextSub int

	now func() time.Time
}

// New creates a stopped clock at the given tempo (clamped).
func New(bpm float64) *Clock {
	c := &Clock{
		subs: make(map[int]subscriber),
		now:  time.Now,
	}
	c.SetBPM(bpm)
	return c
}

// BPM returns the current tempo.
func (c *Clock) BPM() float64 {
	return math.Float64frombits(c.bpm.Load())
}

// SetBPM clamps v to [MinBPM, MaxBPM] and stores it. The new tempo is picked
// up when the next tick interval is computed. It returns the stored value.
func (c *Clock) SetBPM(v float64) float64 {
	if math.IsNaN(v) {
		v = DefaultBPM
	}
	v = max(MinBPM, min(MaxBPM, v))
	c.bpm.Store(math.Float64bits(v))
	return v
}

// Interval returns the duration of one tick at the current tempo.
func (c *Clock) Interval() time.Duration {
	return IntervalFor(c.BPM())
}

// IntervalFor returns the tick duration for a tempo: 60000/(bpm*TicksPerBeat) ms.
func IntervalFor(bpm float64) time.Duration {
	return time.Duration(float64(time.Minute) / (bpm * TicksPerBeat))
}

// Running reports whether the internal timer is running.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start resets the tick counter and starts the internal timer. Starting a
// running clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.emitted.Store(0)
	c.running = true
	c.stop = make(chan struct{})
	go c.loop(c.stop)
}

// Stop halts the internal timer. Stopping a stopped clock is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stop)
	c.running = false
}

// Reset zeroes the tick counter without touching the timer. External sync
// sources use it on a transport start.
func (c *Clock) Reset() {
	c.emitted.Store(0)
}

func (c *Clock) loop(stop <-chan struct{}) {
	next := c.now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		c.Pulse()

		// The interval is recomputed every tick so tempo changes land on the
		// very next tick. If we've fallen more than a tick behind, re-anchor
		// instead of bursting to catch up.
		interval := c.Interval()
		next = next.Add(interval)
		now := c.now()
		if now.Sub(next) > interval {
			next = now.Add(interval)
		}
		timer.Reset(next.Sub(now))
	}
}

// Pulse emits one tick to all subscribers and returns it. The internal timer
// calls it; external sync sources call it directly while the timer is stopped.
func (c *Clock) Pulse() Tick {
	n := c.emitted.Add(1) - 1
	t := Tick{
		Count:  n,
		InBeat: int(n % TicksPerBeat),
		BPM:    c.BPM(),
		At:     c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.beatsOnly && !t.IsBeat() {
			continue
		}
		select {
		case s.ch <- t:
		default:
		}
	}
	return t
}

// State returns a snapshot of the tempo state.
func (c *Clock) State() State {
	s := State{
		BPM:     c.BPM(),
		Running: c.Running(),
	}
	if n := c.emitted.Load(); n > 0 {
		s.Tick = n - 1
		s.TickInBeat = int(s.Tick % TicksPerBeat)
	}
	return s
}

// Subscribe registers for every tick. Delivery never blocks the clock; when
// the buffer is full the tick is dropped for that subscriber. Call the
// returned function to unsubscribe; it closes the channel.
func (c *Clock) Subscribe(buf int) (<-chan Tick, func()) {
	return c.subscribe(buf, false)
}

// SubscribeBeats is like Subscribe but only delivers ticks that start a beat.
func (c *Clock) SubscribeBeats(buf int) (<-chan Tick, func()) {
	return c.subscribe(buf, true)
}

func (c *Clock) subscribe(buf int, beatsOnly bool) (<-chan Tick, func()) {
	ch := make(chan Tick, buf)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = subscriber{ch: ch, beatsOnly: beatsOnly}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Tap records a tap-tempo hit. With at least two taps in the rolling window
// the tempo is set from the mean tap interval. It returns the resulting tempo.
func (c *Clock) Tap() float64 {
	return c.tapAt(c.now())
}

func (c *Clock) tapAt(at time.Time) float64 {
	c.mu.Lock()
	if n := len(c.taps); n > 0 && at.Sub(c.taps[n-1]) > tapExpiry {
		c.taps = c.taps[:0]
	}
	c.taps = append(c.taps, at)
	if len(c.taps) > maxTaps {
		c.taps = append(c.taps[:0], c.taps[len(c.taps)-maxTaps:]...)
	}
	first, last, count := c.taps[0], c.taps[len(c.taps)-1], len(c.taps)
	c.mu.Unlock()

	if count < 2 {
		return c.BPM()
	}
	meanMs := float64(last.Sub(first).Milliseconds()) / float64(count-1)
	if meanMs <= 0 {
		return c.BPM()
	}
	return c.SetBPM(60000 / meanMs)
}

// PhaseForDivision returns the position in [0,1) of tick within a cycle that
// lasts division beats.
func PhaseForDivision(tick int64, division float64) float64 {
	if division <= 0 || math.IsNaN(division) || math.IsInf(division, 0) {
		return 0
	}
	perCycle := TicksPerBeat * division
	p := math.Mod(float64(tick), perCycle) / perCycle
	if p < 0 {
		p += 1
	}
	if p >= 1 {
		p = 0
	}
	return p
}
