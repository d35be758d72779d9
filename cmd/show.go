package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cjcormack/lighting7-sub001/internal/clock"
	"github.com/cjcormack/lighting7-sub001/internal/colour"
	"github.com/cjcormack/lighting7-sub001/internal/engine"
	"github.com/cjcormack/lighting7-sub001/internal/fixture"
	"github.com/cjcormack/lighting7-sub001/internal/fx"
)

// Show is the YAML show file: the patch plus tempo, outputs, palette and
// the effects to start with.
type Show struct {
	fixture.PatchFile `yaml:",inline"`

	Tempo   TempoConfig    `yaml:"tempo"`
	Outputs OutputConfig   `yaml:"outputs"`
	MIDI    MIDIConfig     `yaml:"midi"`
	Palette []string       `yaml:"palette"`
	Effects []EffectConfig `yaml:"effects"`
}

type TempoConfig struct {
	BPM         float64 `yaml:"bpm"`
	BeatsPerBar int     `yaml:"beats_per_bar"`
}

type OutputConfig struct {
	Rate   int           `yaml:"rate"` // frames per second
	ArtNet *ArtNetConfig `yaml:"artnet,omitempty"`
	Enttec *EnttecConfig `yaml:"enttec,omitempty"`
}

type ArtNetConfig struct {
	Address string `yaml:"address"` // empty broadcasts
	Sync    bool   `yaml:"sync"`
}

type EnttecConfig struct {
	Device   string `yaml:"device"`
	Universe int    `yaml:"universe"`
}

type MIDIConfig struct {
	Port       string `yaml:"port"`
	TapChannel *int   `yaml:"tap_channel,omitempty"` // 1-16
	TapNote    *int   `yaml:"tap_note,omitempty"`
}

// EffectConfig is one startup effect.
type EffectConfig struct {
	Effect        string            `yaml:"effect"`
	Params        map[string]string `yaml:"params,omitempty"`
	Fixture       string            `yaml:"fixture,omitempty"`
	Group         string            `yaml:"group,omitempty"`
	Property      string            `yaml:"property,omitempty"` // slider name, colour, position or setting:<name>
	Blend         string            `yaml:"blend,omitempty"`
	Division      float64           `yaml:"division,omitempty"`
	StartOnBeat   bool              `yaml:"start_on_beat,omitempty"`
	PhaseOffset   float64           `yaml:"phase_offset,omitempty"`
	Distribution  string            `yaml:"distribution,omitempty"`
	ElementMode   string            `yaml:"element_mode,omitempty"`
	ElementFilter string            `yaml:"element_filter,omitempty"`
	Preset        string            `yaml:"preset,omitempty"`
	Paused        bool              `yaml:"paused,omitempty"`
}

// ParseShow decodes a show document and fills in defaults.
func ParseShow(data []byte) (*Show, error) {
	var s Show
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse show: %w", err)
	}
	if s.Tempo.BPM == 0 {
		s.Tempo.BPM = clock.DefaultBPM
	}
	if s.Tempo.BeatsPerBar == 0 {
		s.Tempo.BeatsPerBar = 4
	}
	if s.Outputs.Rate == 0 {
		s.Outputs.Rate = 40
	}
	return &s, nil
}

// LoadShow reads a show file.
func LoadShow(path string) (*Show, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read show: %w", err)
	}
	return ParseShow(data)
}

// BuildPalette parses the palette entries.
func (s *Show) BuildPalette() (*colour.Palette, error) {
	colours := make([]colour.Extended, 0, len(s.Palette))
	for i, entry := range s.Palette {
		c, err := colour.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", i+1, err)
		}
		colours = append(colours, c)
	}
	return colour.NewPalette(colours...), nil
}

// Start adds every startup effect to the scheduler. It stops at the first
// effect that cannot be built or added.
func (s *Show) Start(sched *engine.Scheduler) ([]int64, error) {
	ids := make([]int64, 0, len(s.Effects))
	for i, ec := range s.Effects {
		req, err := ec.Request()
		if err != nil {
			return ids, fmt.Errorf("effect %d (%s): %w", i+1, ec.Effect, err)
		}
		id, err := sched.Add(req)
		if err != nil {
			return ids, fmt.Errorf("effect %d (%s): %w", i+1, ec.Effect, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Request turns the config into a scheduler request.
func (ec EffectConfig) Request() (engine.AddRequest, error) {
	var req engine.AddRequest

	e, err := fx.NewEffect(ec.Effect, ec.Params)
	if err != nil {
		return req, err
	}

	var ref fx.Ref
	switch {
	case ec.Fixture != "" && ec.Group != "":
		return req, fmt.Errorf("both fixture %q and group %q given", ec.Fixture, ec.Group)
	case ec.Fixture != "":
		ref = fx.FixtureRef(ec.Fixture)
	case ec.Group != "":
		ref = fx.GroupRef(ec.Group)
	default:
		return req, fmt.Errorf("no fixture or group")
	}

	target, err := buildTarget(ref, e.Kind(), ec.Property)
	if err != nil {
		return req, err
	}

	req = engine.AddRequest{
		Effect:      e,
		Target:      target,
		Timing:      fx.Timing{Division: ec.Division, StartOnBeat: ec.StartOnBeat},
		PhaseOffset: ec.PhaseOffset,
		PresetID:    ec.Preset,
		Paused:      ec.Paused,
	}
	if ec.Blend != "" {
		if req.Blend, err = fx.ParseBlendMode(ec.Blend); err != nil {
			return req, err
		}
	}
	if ec.Distribution != "" {
		d, err := fx.ParseDistribution(ec.Distribution)
		if err != nil {
			return req, err
		}
		req.Distribution = &d
	}
	if ec.ElementMode != "" {
		if req.ElementMode, err = fx.ParseElementMode(ec.ElementMode); err != nil {
			return req, err
		}
	}
	if ec.ElementFilter != "" {
		if req.ElementFilter, err = fx.ParseElementFilter(ec.ElementFilter); err != nil {
			return req, err
		}
	}
	return req, nil
}

// buildTarget picks the target from the property, defaulting by the
// effect's output kind.
func buildTarget(ref fx.Ref, kind fx.Kind, property string) (fx.Target, error) {
	p := strings.ToLower(strings.TrimSpace(property))
	switch {
	case p == "" && kind == fx.KindSlider:
		return fx.Slider(ref, "dimmer"), nil
	case p == "colour" || p == "color" || (p == "" && kind == fx.KindColour):
		return fx.Colour(ref), nil
	case p == "position" || (p == "" && kind == fx.KindPosition):
		return fx.Position(ref), nil
	case strings.HasPrefix(p, "setting:"):
		name := strings.TrimPrefix(p, "setting:")
		if name == "" {
			return nil, fmt.Errorf("property %q: no setting name", property)
		}
		return fx.Setting(ref, name), nil
	case p == "":
		return nil, fmt.Errorf("%s effects need a property", kind)
	default:
		return fx.Slider(ref, p), nil
	}
}
