// Package dmx keeps the live universe levels, implements channel
// transactions with fades on top of them, and sends frames to Art-Net and
// Enttec USB Pro outputs.
package dmx

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cjcormack/lighting7-sub001/internal/fixture"
)

// UniverseSize is the number of channels in a DMX universe.
const UniverseSize = 512

// Output sends rendered universes somewhere. Flush is called once after
// every universe of a frame has been sent.
type Output interface {
	SendFrame(universe int, data []byte) error
	Flush() error
	Close() error
}

type fade struct {
	from, to uint8
	start    time.Time
	dur      time.Duration
}

type universe struct {
	levels [UniverseSize]uint8 // committed values; fade destinations
	fades  map[int]fade         // keyed by 0-based channel index
}

// Bus holds every universe's levels. It implements fixture.Controller.
type Bus struct {
	mu        sync.Mutex
	universes map[int]*universe
	outputs   []Output
	logger    *slog.Logger
	now       func() time.Time
}

type BusOption func(*Bus)

func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

func WithOutputs(outs ...Output) BusOption {
	return func(b *Bus) { b.outputs = append(b.outputs, outs...) }
}

func withClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		universes: make(map[int]*universe),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Use makes sure the universes exist so they are sent even while dark.
func (b *Bus) Use(universes ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range universes {
		b.universe(u)
	}
}

func (b *Bus) universe(u int) *universe {
	uni, ok := b.universes[u]
	if !ok {
		uni = &universe{fades: make(map[int]fade)}
		b.universes[u] = uni
	}
	return uni
}

// Universes returns the known universe numbers in order.
func (b *Bus) Universes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, 0, len(b.universes))
	for u := range b.universes {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

func valid(channel int) bool {
	return channel >= 1 && channel <= UniverseSize
}

// Value returns the committed value of a channel, ignoring any fade in
// progress towards it.
func (b *Bus) Value(u, channel int) uint8 {
	if !valid(channel) {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	uni, ok := b.universes[u]
	if !ok {
		return 0
	}
	return uni.levels[channel-1]
}

// Level returns what the channel outputs right now, fades included.
func (b *Bus) Level(u, channel int) uint8 {
	if !valid(channel) {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	uni, ok := b.universes[u]
	if !ok {
		return 0
	}
	return uni.level(channel-1, b.now())
}

func (uni *universe) level(i int, now time.Time) uint8 {
	f, ok := uni.fades[i]
	if !ok {
		return uni.levels[i]
	}
	elapsed := now.Sub(f.start)
	if elapsed >= f.dur {
		delete(uni.fades, i)
		return uni.levels[i]
	}
	t := float64(elapsed) / float64(f.dur)
	return uint8(float64(f.from) + (float64(f.to)-float64(f.from))*t + 0.5)
}

// Frame renders a universe at the current time.
func (b *Bus) Frame(u int) []byte {
	out := make([]byte, UniverseSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	uni, ok := b.universes[u]
	if !ok {
		return out
	}
	now := b.now()
	if len(uni.fades) == 0 {
		copy(out, uni.levels[:])
		return out
	}
	for i := range out {
		out[i] = uni.level(i, now)
	}
	return out
}

type change struct {
	u, ch  int
	value  uint8
	fadeMs int
}

func (b *Bus) apply(changes map[[2]int]change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for _, c := range changes {
		uni := b.universe(c.u)
		i := c.ch - 1
		if c.fadeMs > 0 {
			from := uni.level(i, now)
			uni.fades[i] = fade{from: from, to: c.value, start: now, dur: time.Duration(c.fadeMs) * time.Millisecond}
		} else {
			delete(uni.fades, i)
		}
		uni.levels[i] = c.value
	}
}

// Open starts a transaction against the bus.
func (b *Bus) Open() fixture.Transaction {
	return &Txn{bus: b, staged: make(map[[2]int]change)}
}

// Txn stages writes until Commit. Get sees the transaction's own writes
// first, then the committed bus value. Repeated writes to one channel keep
// only the last.
type Txn struct {
	bus    *Bus
	staged map[[2]int]change
	done   bool
}

var ErrCommitted = errors.New("transaction already committed")

func (t *Txn) Get(u, channel int) uint8 {
	if c, ok := t.staged[[2]int{u, channel}]; ok {
		return c.value
	}
	return t.bus.Value(u, channel)
}

func (t *Txn) Set(u, channel int, value uint8, fadeMs int) {
	if !valid(channel) {
		return
	}
	t.staged[[2]int{u, channel}] = change{u: u, ch: channel, value: value, fadeMs: fadeMs}
}

func (t *Txn) Commit() error {
	if t.done {
		return ErrCommitted
	}
	t.done = true
	if len(t.staged) > 0 {
		t.bus.apply(t.staged)
	}
	return nil
}

// Run renders and sends every universe rate times a second until ctx is
// done. Output errors are logged when an output starts and stops failing.
func (b *Bus) Run(ctx context.Context, rate int) error {
	if rate <= 0 {
		rate = 40
	}
	t := time.NewTicker(time.Second / time.Duration(rate))
	defer t.Stop()

	failing := make([]bool, len(b.outputs))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b.sendAll(failing)
		}
	}
}

func (b *Bus) sendAll(failing []bool) {
	universes := b.Universes()
	frames := make(map[int][]byte, len(universes))
	for _, u := range universes {
		frames[u] = b.Frame(u)
	}
	for i, out := range b.outputs {
		var err error
		for _, u := range universes {
			if err = out.SendFrame(u, frames[u]); err != nil {
				break
			}
		}
		if err == nil {
			err = out.Flush()
		}
		switch {
		case err != nil && !failing[i]:
			b.logger.Warn("dmx output failing", "output", i, "err", err)
			failing[i] = true
		case err == nil && failing[i]:
			b.logger.Info("dmx output recovered", "output", i)
			failing[i] = false
		}
	}
}

// Close closes every output.
func (b *Bus) Close() error {
	var errs []error
	for _, out := range b.outputs {
		errs = append(errs, out.Close())
	}
	return errors.Join(errs...)
}
