// Package tui is the live show monitor: tempo, a beat pulse, the running
// effects and a colour swatch per fixture.
package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
	"github.com/cjcormack/lighting7-sub001/internal/colour"
	"github.com/cjcormack/lighting7-sub001/internal/engine"
	"github.com/cjcormack/lighting7-sub001/internal/fixture"
)

const fps = 30

// Tempo is the clock as the monitor sees it.
type Tempo interface {
	State() clock.State
	SetBPM(float64) float64
	Tap() float64
}

// Effects is the scheduler as the monitor sees it.
type Effects interface {
	Snapshot() engine.Snapshot
	Subscribe() (<-chan engine.Snapshot, func())
	PauseAll() int
	ResumeAll() int
	Clear() int
}

// Levels reads what a channel is outputting.
type Levels interface {
	Level(universe, channel int) uint8
}

type frameMsg time.Time

type snapshotMsg engine.Snapshot

// Model is the bubbletea model for the monitor.
type Model struct {
	tempo    Tempo
	effects  Effects
	levels   Levels
	fixtures []*fixture.Fixture

	snaps  <-chan engine.Snapshot
	cancel func()

	state    clock.State
	snap     engine.Snapshot
	lastBeat int64
	paused   bool
	message  string

	spring   harmonica.Spring
	pulse    float64
	pulseVel float64

	width  int
	height int
}

// NewMonitor subscribes to effect snapshots. The subscription ends when the
// user quits.
func NewMonitor(tempo Tempo, effects Effects, levels Levels, fixtures []*fixture.Fixture) *Model {
	snaps, cancel := effects.Subscribe()
	return &Model{
		tempo:    tempo,
		effects:  effects,
		levels:   levels,
		fixtures: fixtures,
		snaps:    snaps,
		cancel:   cancel,
		snap:     effects.Snapshot(),
		state:    tempo.State(),
		lastBeat: -1,
		spring:   harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.6),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(frame(), m.waitSnapshot())
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m *Model) waitSnapshot() tea.Cmd {
	snaps := m.snaps
	return func() tea.Msg {
		s, ok := <-snaps
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case frameMsg:
		m.advance()
		return m, frame()

	case snapshotMsg:
		m.snap = engine.Snapshot(msg)
		return m, m.waitSnapshot()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// advance reads the tempo and moves the beat pulse one frame on.
func (m *Model) advance() {
	m.state = m.tempo.State()
	beat := m.state.Tick / clock.TicksPerBeat
	if m.state.Tick > 0 && beat != m.lastBeat {
		m.lastBeat = beat
		m.pulse, m.pulseVel = 1, 0
		return
	}
	m.pulse, m.pulseVel = m.spring.Update(m.pulse, m.pulseVel, 0)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case " ", "space":
		m.message = fmt.Sprintf("Tap: %.1f BPM", m.tempo.Tap())
	case "+", "=":
		m.message = fmt.Sprintf("Tempo: %.1f BPM", m.tempo.SetBPM(m.state.BPM+1))
	case "-", "_":
		m.message = fmt.Sprintf("Tempo: %.1f BPM", m.tempo.SetBPM(m.state.BPM-1))
	case "p":
		if m.paused {
			m.message = fmt.Sprintf("Resumed %d effect(s)", m.effects.ResumeAll())
		} else {
			m.message = fmt.Sprintf("Paused %d effect(s)", m.effects.PauseAll())
		}
		m.paused = !m.paused
	case "c":
		m.message = fmt.Sprintf("Cleared %d effect(s)", m.effects.Clear())
	}
	m.state = m.tempo.State()
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("LIGHTING7 Monitor") + "\n\n")
	b.WriteString(m.renderTempo() + "\n\n")
	b.WriteString(m.renderEffects() + "\n")
	b.WriteString(m.renderFixtures() + "\n")

	if m.message != "" {
		b.WriteString(messageStyle.Render(m.message) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("space: tap • +/-: tempo • p: pause/resume all • c: clear all • q: quit"))
	return b.String()
}

func (m *Model) renderTempo() string {
	status := pausedStyle.Render("stopped")
	if m.state.Running {
		status = runningStyle.Render("running")
	}

	idx := int(m.pulse*float64(len(beatColours)-1) + 0.5)
	idx = max(0, min(len(beatColours)-1, idx))
	dot := lipgloss.NewStyle().Foreground(lipgloss.Color(beatColours[idx])).Render("●")

	beat := m.state.Tick/clock.TicksPerBeat + 1
	return fmt.Sprintf("%s  %6.1f BPM  beat %-5d %s", dot, m.state.BPM, beat, status)
}

func (m *Model) renderEffects() string {
	var b strings.Builder
	b.WriteString(selectedStyle.Render(fmt.Sprintf("Effects (%d)", len(m.snap.ActiveIDs))) + "\n")
	if len(m.snap.ActiveIDs) == 0 {
		b.WriteString(helpStyle.Render("  none") + "\n")
		return b.String()
	}

	ids := slices.Clone(m.snap.ActiveIDs)
	slices.Sort(ids)
	for _, id := range ids {
		s, ok := m.snap.Effects[id]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %3d %-14s %-20s %-10s %-8s %s", s.ID, s.Effect, s.Target, s.Property, s.Blend, phaseBar(s.Phase, 10))
		if s.Distribution != "" {
			line += " " + s.Distribution
		}
		if !s.Running {
			line = pausedStyle.Render(line + " (paused)")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func phaseBar(phase float64, width int) string {
	filled := int(phase*float64(width) + 0.5)
	filled = max(0, min(width, filled))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

func (m *Model) renderFixtures() string {
	var b strings.Builder
	b.WriteString(selectedStyle.Render("Fixtures") + "\n")
	for _, f := range m.fixtures {
		b.WriteString(fmt.Sprintf("  %-12s ", f.Key))
		parts := f.Elements()
		if len(parts) == 0 {
			parts = []*fixture.Fixture{f}
		}
		for _, p := range parts {
			if c, ok := m.Rendered(p); ok {
				b.WriteString(Swatch(c))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Rendered returns the colour a fixture shows right now: its RGB channels
// scaled by its dimmer, or a grey level for a dimmer-only fixture.
func (m *Model) Rendered(f *fixture.Fixture) (colour.Extended, bool) {
	dim := uint8(255)
	ch, hasDimmer := f.Slider("dimmer")
	if !hasDimmer {
		if root := f.Root(); root != f {
			ch, hasDimmer = root.Slider("dimmer")
		}
	}
	if hasDimmer {
		dim = m.levels.Level(f.Universe, ch)
	}

	if cc, ok := f.Colour(); ok {
		c := colour.Extended{
			R: m.levels.Level(f.Universe, cc.Red),
			G: m.levels.Level(f.Universe, cc.Green),
			B: m.levels.Level(f.Universe, cc.Blue),
		}
		return c.Scale(dim), true
	}
	if hasDimmer {
		return colour.Extended{R: dim, G: dim, B: dim}, true
	}
	return colour.Extended{}, false
}
