// Package engine runs effect instances against fixtures on every clock tick.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
	"github.com/cjcormack/lighting7-sub001/internal/colour"
	"github.com/cjcormack/lighting7-sub001/internal/fixture"
	"github.com/cjcormack/lighting7-sub001/internal/fx"
)

var ErrEffectNotFound = errors.New("effect not found")

// Resolver looks up fixtures and groups by key. *fixture.Registry
// satisfies it.
type Resolver interface {
	Fixture(key string) (*fixture.Fixture, error)
	Group(name string) (*fixture.Group, error)
	GroupsContaining(key string) []string
}

// Scheduler owns the table of running effects and evaluates them once per
// tick into a single channel transaction.
type Scheduler struct {
	resolver Resolver
	ctrl     fixture.Controller
	palette  *colour.Palette
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	effects map[int64]*fx.Instance
	nextID  atomic.Int64

	tickMu   sync.Mutex
	lastTick atomic.Pointer[clock.Tick]

	// shapes caches what the last tick resolved for each effect.
	shapeMu sync.Mutex
	shapes  map[int64]shape

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPalette sets the palette passed to palette-aware effects.
func WithPalette(p *colour.Palette) Option {
	return func(s *Scheduler) { s.palette = p }
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(r Resolver, ctrl fixture.Controller, opts ...Option) *Scheduler {
	s := &Scheduler{
		resolver: r,
		ctrl:     ctrl,
		logger:   slog.Default(),
		now:      time.Now,
		effects:  make(map[int64]*fx.Instance),
		shapes:   make(map[int64]shape),
		subs:     make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRequest describes a new running effect. A nil Distribution means
// unified.
type AddRequest struct {
	Effect        fx.Effect
	Target        fx.Target
	Timing        fx.Timing
	Blend         fx.BlendMode
	PhaseOffset   float64
	Distribution  *fx.Distribution
	ElementMode   fx.ElementMode
	ElementFilter fx.ElementFilter
	PresetID      string
	Paused        bool
}

// Add validates the target and starts the effect, returning its id.
func (s *Scheduler) Add(req AddRequest) (int64, error) {
	if req.Effect == nil || req.Target == nil {
		return 0, errors.New("add effect: effect and target are required")
	}
	if err := s.resolve(req.Target.Ref()); err != nil {
		return 0, fmt.Errorf("add effect: %w", err)
	}

	in := fx.NewInstance(s.nextID.Add(1), req.Effect, req.Target, req.Timing, req.Blend, s.now())
	in.PresetID = req.PresetID
	in.SetPhaseOffset(req.PhaseOffset)
	if req.Distribution != nil {
		in.SetDistribution(*req.Distribution)
	}
	in.SetElementMode(req.ElementMode)
	in.SetElementFilter(req.ElementFilter)
	if req.Paused {
		in.Pause()
	}

	s.mu.Lock()
	s.effects[in.ID] = in
	s.mu.Unlock()

	s.logger.Debug("effect added", "id", in.ID, "effect", in.Effect.Name(), "target", fx.Describe(in.Target))
	s.publish()
	return in.ID, nil
}

func (s *Scheduler) resolve(ref fx.Ref) error {
	if ref.IsGroup() {
		_, err := s.resolver.Group(ref.Key())
		return err
	}
	_, err := s.resolver.Fixture(ref.Key())
	return err
}

// Remove deletes an effect from the table.
func (s *Scheduler) Remove(id int64) error {
	s.mu.Lock()
	_, ok := s.effects[id]
	delete(s.effects, id)
	s.mu.Unlock()
	s.forgetShape(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrEffectNotFound, id)
	}
	s.publish()
	return nil
}

func (s *Scheduler) Pause(id int64) error {
	in, err := s.Get(id)
	if err != nil {
		return err
	}
	if in.Pause() {
		s.publish()
	}
	return nil
}

func (s *Scheduler) Resume(id int64) error {
	in, err := s.Get(id)
	if err != nil {
		return err
	}
	if in.Resume() {
		s.publish()
	}
	return nil
}

// PauseAll pauses every effect and returns how many changed.
func (s *Scheduler) PauseAll() int {
	n := 0
	for _, in := range s.List() {
		if in.Pause() {
			n++
		}
	}
	s.publish()
	return n
}

// ResumeAll resumes every effect and returns how many changed.
func (s *Scheduler) ResumeAll() int {
	n := 0
	for _, in := range s.List() {
		if in.Resume() {
			n++
		}
	}
	s.publish()
	return n
}

// Clear removes every effect and returns how many were removed.
func (s *Scheduler) Clear() int {
	return s.removeWhere(func(*fx.Instance) bool { return true })
}

// ClearFixture removes effects aimed directly at the fixture or one of its
// elements. Group effects are left alone.
func (s *Scheduler) ClearFixture(key string) int {
	root := s.rootKey(key)
	return s.removeWhere(func(in *fx.Instance) bool {
		ref := in.Target.Ref()
		return !ref.IsGroup() && s.rootKey(ref.Key()) == root
	})
}

// ClearGroup removes effects aimed at the named group.
func (s *Scheduler) ClearGroup(name string) int {
	return s.removeWhere(func(in *fx.Instance) bool {
		ref := in.Target.Ref()
		return ref.IsGroup() && ref.Key() == name
	})
}

func (s *Scheduler) removeWhere(match func(*fx.Instance) bool) int {
	s.mu.Lock()
	n := 0
	for id, in := range s.effects {
		if match(in) {
			delete(s.effects, id)
			s.forgetShape(id)
			n++
		}
	}
	s.mu.Unlock()
	s.publish()
	return n
}

// UpdateRequest changes an effect. Nil fields are left as they are.
// Changing Effect, Timing or Blend swaps in a new instance value; the other
// fields are set in place.
type UpdateRequest struct {
	Effect        fx.Effect
	Timing        *fx.Timing
	Blend         *fx.BlendMode
	PhaseOffset   *float64
	Distribution  *fx.Distribution
	ElementMode   *fx.ElementMode
	ElementFilter *fx.ElementFilter
}

func (s *Scheduler) Update(id int64, req UpdateRequest) (*fx.Instance, error) {
	s.mu.Lock()
	in, ok := s.effects[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrEffectNotFound, id)
	}
	if req.Effect != nil || req.Timing != nil || req.Blend != nil {
		e, timing, blend := in.Effect, in.Timing, in.Blend
		if req.Effect != nil {
			e = req.Effect
		}
		if req.Timing != nil {
			timing = *req.Timing
		}
		if req.Blend != nil {
			blend = *req.Blend
		}
		in = in.With(e, timing, blend)
		s.effects[id] = in
	}
	s.mu.Unlock()

	if req.PhaseOffset != nil {
		in.SetPhaseOffset(*req.PhaseOffset)
	}
	if req.Distribution != nil {
		in.SetDistribution(*req.Distribution)
	}
	if req.ElementMode != nil {
		in.SetElementMode(*req.ElementMode)
	}
	if req.ElementFilter != nil {
		in.SetElementFilter(*req.ElementFilter)
	}
	s.publish()
	return in, nil
}

func (s *Scheduler) Get(id int64) (*fx.Instance, error) {
	s.mu.RLock()
	in, ok := s.effects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEffectNotFound, id)
	}
	return in, nil
}

// List returns every effect ordered by id, which is also evaluation order.
func (s *Scheduler) List() []*fx.Instance {
	s.mu.RLock()
	out := make([]*fx.Instance, 0, len(s.effects))
	for _, in := range s.effects {
		out = append(out, in)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *fx.Instance) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ByTarget returns the effects aimed exactly at ref.
func (s *Scheduler) ByTarget(ref fx.Ref) []*fx.Instance {
	return s.filter(func(in *fx.Instance) bool { return in.Target.Ref() == ref })
}

// ByFixture returns the effects that drive the fixture: aimed at it or one
// of its elements, or at a group that contains it.
func (s *Scheduler) ByFixture(key string) []*fx.Instance {
	root := s.rootKey(key)
	groups := map[string]bool{}
	for _, g := range s.resolver.GroupsContaining(key) {
		groups[g] = true
	}
	return s.filter(func(in *fx.Instance) bool {
		ref := in.Target.Ref()
		if ref.IsGroup() {
			return groups[ref.Key()]
		}
		return s.rootKey(ref.Key()) == root
	})
}

func (s *Scheduler) filter(keep func(*fx.Instance) bool) []*fx.Instance {
	var out []*fx.Instance
	for _, in := range s.List() {
		if keep(in) {
			out = append(out, in)
		}
	}
	return out
}

func (s *Scheduler) rootKey(key string) string {
	f, err := s.resolver.Fixture(key)
	if err != nil {
		return key
	}
	return f.Root().Key
}

// Run processes ticks until ctx is done or ticks is closed.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan clock.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			s.ProcessTick(t)
		}
	}
}

// ProcessTick evaluates every running effect for one tick, commits the
// transaction and publishes a snapshot. Ticks never overlap. A failure in
// one effect is logged and the rest still run.
func (s *Scheduler) ProcessTick(t clock.Tick) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.lastTick.Store(&t)

	effects := s.List()
	if len(effects) == 0 {
		return
	}

	txn := s.ctrl.Open()
	for _, in := range effects {
		if !in.Running() || !in.Ready(t.InBeat) {
			continue
		}
		s.evaluate(in, t, txn)
	}
	if err := txn.Commit(); err != nil {
		s.logger.Error("commit failed", "tick", t.Count, "err", err)
	}
	s.publish()
}

func (s *Scheduler) evaluate(in *fx.Instance, t clock.Tick, txn fixture.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("effect failed", "id", in.ID, "err", r)
		}
	}()
	if err := s.apply(in, t, txn); err != nil {
		s.logger.Error("effect failed", "id", in.ID, "err", err)
	}
}

func (s *Scheduler) apply(in *fx.Instance, t clock.Tick, txn fixture.Transaction) error {
	base := in.BasePhase(clock.PhaseForDivision(t.Count, in.Timing.Division))
	ref := in.Target.Ref()

	if !ref.IsGroup() {
		f, err := s.resolver.Fixture(ref.Key())
		if err != nil {
			return err
		}
		s.recordShape(in.ID, shape{elements: s.needsElements(in, f)})
		s.applyFixture(in, f, fixture.Meta{}, base, txn)
		return nil
	}

	g, err := s.resolver.Group(ref.Key())
	if err != nil {
		return err
	}
	members := g.Flatten()
	expand := false
	for _, m := range members {
		if s.needsElements(in, m.Fixture) {
			expand = true
			break
		}
	}
	s.recordShape(in.ID, shape{grouped: true, elements: expand})

	switch {
	case !expand:
		d := in.Distribution()
		for _, m := range members {
			s.applyMember(in, m.Fixture, m.Meta, d.Context(m.Index, m.Position, len(members)), base, txn)
		}
	case in.ElementMode() == fx.Flat:
		s.applyFlat(in, members, base, txn)
	default:
		for _, m := range members {
			s.applyFixture(in, m.Fixture, m.Meta, base, txn)
		}
	}
	return nil
}

func (s *Scheduler) needsElements(in *fx.Instance, f *fixture.Fixture) bool {
	return !in.Target.FixtureHasProperty(f) && f.IsComposite()
}

// applyFixture drives one fixture on its own, spreading the effect across
// its elements when the fixture itself lacks the property.
func (s *Scheduler) applyFixture(in *fx.Instance, f *fixture.Fixture, meta fixture.Meta, base float64, txn fixture.Transaction) {
	if !s.needsElements(in, f) {
		s.applyMember(in, f, meta, fx.Single(nil), base, txn)
		return
	}
	d, filter := in.Distribution(), in.ElementFilter()
	elems := f.Elements()
	n := len(elems)
	for k, e := range elems {
		if !filter.Keep(k, n) {
			continue
		}
		s.applyMember(in, e, meta, d.Context(k, fixture.NormalizedPosition(k, n), n), base, txn)
	}
}

// applyFlat runs one distribution across every element of every member.
// Members that have the property themselves take a single slot.
func (s *Scheduler) applyFlat(in *fx.Instance, members []fixture.Member, base float64, txn fixture.Transaction) {
	type slot struct {
		f    *fixture.Fixture
		meta fixture.Meta
		keep bool
	}
	var slots []slot
	filter := in.ElementFilter()
	for _, m := range members {
		if !s.needsElements(in, m.Fixture) {
			slots = append(slots, slot{m.Fixture, m.Meta, true})
			continue
		}
		elems := m.Fixture.Elements()
		for k, e := range elems {
			slots = append(slots, slot{e, m.Meta, filter.Keep(k, len(elems))})
		}
	}

	d, total := in.Distribution(), len(slots)
	for j, sl := range slots {
		if !sl.keep {
			continue
		}
		s.applyMember(in, sl.f, sl.meta, d.Context(j, fixture.NormalizedPosition(j, total), total), base, txn)
	}
}

func (s *Scheduler) applyMember(in *fx.Instance, f *fixture.Fixture, meta fixture.Meta, ctx fx.Context, base float64, txn fixture.Transaction) {
	ctx.Palette = s.palette
	out := in.Effect.Calculate(fx.MemberPhase(base, ctx), ctx)
	if !in.Target.Apply(f, fx.AdjustForMember(out, meta), in.Blend, txn) {
		s.logger.Debug("output not applied", "id", in.ID, "fixture", f.Key, "output", out.Kind(), "target", in.Target.Kind())
	}
}
