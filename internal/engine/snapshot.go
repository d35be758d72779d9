package engine

import (
	"github.com/cjcormack/lighting7-sub001/internal/fx"
)

// Summary describes one effect for external consumers. Distribution and
// element labels are only set when they affect that effect.
type Summary struct {
	ID            int64   `json:"id"`
	Effect        string  `json:"effect"`
	Kind          string  `json:"kind"`
	Target        string  `json:"target"`
	Property      string  `json:"property"`
	Phase         float64 `json:"phase"`
	Running       bool    `json:"running"`
	Blend         string  `json:"blend"`
	Division      float64 `json:"division"`
	Distribution  string  `json:"distribution,omitempty"`
	ElementMode   string  `json:"elementMode,omitempty"`
	ElementFilter string  `json:"elementFilter,omitempty"`
	PresetID      string  `json:"presetId,omitempty"`
}

// Snapshot is published after every change and every tick with effects.
type Snapshot struct {
	ActiveIDs []int64           `json:"activeIds"`
	Effects   map[int64]Summary `json:"effects"`
	Tick      int64             `json:"tick"`
	BPM       float64           `json:"bpm"`
}

// Snapshot builds the current state.
func (s *Scheduler) Snapshot() Snapshot {
	list := s.List()
	snap := Snapshot{
		ActiveIDs: make([]int64, 0, len(list)),
		Effects:   make(map[int64]Summary, len(list)),
	}
	if t := s.lastTick.Load(); t != nil {
		snap.Tick, snap.BPM = t.Count, t.BPM
	}
	for _, in := range list {
		snap.ActiveIDs = append(snap.ActiveIDs, in.ID)
		snap.Effects[in.ID] = s.summarise(in)
	}
	return snap
}

func (s *Scheduler) summarise(in *fx.Instance) Summary {
	ref := in.Target.Ref()
	sum := Summary{
		ID:       in.ID,
		Effect:   in.Effect.Name(),
		Kind:     in.Effect.Kind().String(),
		Target:   ref.String(),
		Property: in.Target.Property(),
		Phase:    in.LastPhase(),
		Running:  in.Running(),
		Blend:    in.Blend.String(),
		Division: in.Timing.Division,
		PresetID: in.PresetID,
	}

	sh := s.cachedShape(in)
	grouped, elements := sh.grouped, sh.elements
	if grouped || elements {
		sum.Distribution = in.Distribution().String()
	}
	if grouped && elements {
		sum.ElementMode = in.ElementMode().String()
	}
	if elements {
		sum.ElementFilter = in.ElementFilter().String()
	}
	return sum
}

type shape struct {
	grouped  bool // the target is a group
	elements bool // the effect expands into composite elements
}

func (s *Scheduler) recordShape(id int64, sh shape) {
	s.shapeMu.Lock()
	s.shapes[id] = sh
	s.shapeMu.Unlock()
}

func (s *Scheduler) forgetShape(id int64) {
	s.shapeMu.Lock()
	delete(s.shapes, id)
	s.shapeMu.Unlock()
}

// cachedShape returns the shape the last tick resolved, resolving it here
// only for effects that have not been evaluated yet.
func (s *Scheduler) cachedShape(in *fx.Instance) shape {
	s.shapeMu.Lock()
	sh, ok := s.shapes[in.ID]
	s.shapeMu.Unlock()
	if ok {
		return sh
	}
	return s.resolveShape(in)
}

func (s *Scheduler) resolveShape(in *fx.Instance) shape {
	ref := in.Target.Ref()
	if !ref.IsGroup() {
		f, err := s.resolver.Fixture(ref.Key())
		return shape{elements: err == nil && s.needsElements(in, f)}
	}
	g, err := s.resolver.Group(ref.Key())
	if err != nil {
		return shape{grouped: true}
	}
	for _, m := range g.Flatten() {
		if s.needsElements(in, m.Fixture) {
			return shape{grouped: true, elements: true}
		}
	}
	return shape{grouped: true}
}

// Subscribe returns a channel of snapshots. A slow reader sees only the
// latest snapshot; the scheduler never blocks on it.
func (s *Scheduler) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Scheduler) publish() {
	s.subsMu.Lock()
	n := len(s.subs)
	s.subsMu.Unlock()
	if n == 0 {
		return
	}

	snap := s.Snapshot()
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
