package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cjcormack/lighting7-sub001/internal/audio"
	"github.com/cjcormack/lighting7-sub001/internal/clock"
	"github.com/cjcormack/lighting7-sub001/internal/dmx"
	"github.com/cjcormack/lighting7-sub001/internal/engine"
	"github.com/cjcormack/lighting7-sub001/internal/midiclock"
	"github.com/cjcormack/lighting7-sub001/internal/tui"
)

var (
	withMonitor   bool
	withMetronome bool
	midiPort      string
	artnetAddr    string
	enttecDevice  string
	bpm           float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a show",
	Long: `Load the show file, start its effects and send DMX until interrupted.

Outputs come from the show file; --artnet and --enttec add or replace them.
With --midi the clock follows MIDI timing clock from the matching input
once it sends Start, and a configured pad on it taps the tempo.

Example:
  lighting7 run --show club.yaml --monitor --artnet 10.0.0.255
`,
	PreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("artnet") {
			artnetAddr = os.Getenv("LIGHTING7_ARTNET")
		}
	},
	RunE: runShow,
}

func init() {
	runCmd.Flags().BoolVarP(&withMonitor, "monitor", "m", false, "Show the live monitor (logs go to --log-file)")
	runCmd.Flags().BoolVar(&withMetronome, "metronome", false, "Click on every beat")
	runCmd.Flags().StringVar(&midiPort, "midi", "", "Follow MIDI clock from the input whose name contains this")
	runCmd.Flags().StringVar(&artnetAddr, "artnet", "", "Art-Net destination host (env LIGHTING7_ARTNET, \"broadcast\" for the local network)")
	runCmd.Flags().StringVar(&enttecDevice, "enttec", "", "Enttec DMX USB Pro serial device")
	runCmd.Flags().Float64Var(&bpm, "bpm", 0, "Starting tempo (overrides the show file)")
	rootCmd.AddCommand(runCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	if withMonitor && logFile == "" {
		// The monitor owns the terminal.
		f, err := os.OpenFile("lighting7.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		initLogger(debug, f)
	}

	show, err := LoadShow(showPath)
	if err != nil {
		return err
	}
	reg, err := show.Build()
	if err != nil {
		return err
	}
	palette, err := show.BuildPalette()
	if err != nil {
		return err
	}

	outputs, err := openOutputs(show)
	if err != nil {
		return err
	}
	bus := dmx.NewBus(dmx.WithOutputs(outputs...), dmx.WithBusLogger(logger))
	defer bus.Close()
	for _, f := range reg.Fixtures() {
		bus.Use(f.Universe)
	}

	tempo := show.Tempo.BPM
	if bpm > 0 {
		tempo = bpm
	}
	clk := clock.New(tempo)
	sched := engine.New(reg, bus, engine.WithLogger(logger), engine.WithPalette(palette))

	ids, err := show.Start(sched)
	if err != nil {
		return err
	}
	logger.Info("show loaded", "path", showPath, "fixtures", len(reg.Fixtures()), "effects", len(ids), "bpm", clk.BPM())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("component stopped", "component", name, "err", err)
			}
		}()
	}

	ticks, cancelTicks := clk.Subscribe(4)
	defer cancelTicks()
	goRun("scheduler", func(ctx context.Context) error { return sched.Run(ctx, ticks) })
	goRun("dmx", func(ctx context.Context) error { return bus.Run(ctx, show.Outputs.Rate) })

	if withMetronome {
		met, err := audio.NewMetronome(show.Tempo.BeatsPerBar, 0.6)
		if err != nil {
			return fmt.Errorf("failed to initialize audio: %w", err)
		}
		defer met.Close()
		beats, cancelBeats := clk.SubscribeBeats(1)
		defer cancelBeats()
		goRun("metronome", func(ctx context.Context) error { met.Run(ctx, beats); return nil })
	}

	// The internal timer runs until a MIDI Start hands the clock over.
	port := midiPort
	if port == "" {
		port = show.MIDI.Port
	}
	if port != "" {
		follower := midiclock.New(clk, followerOptions(show.MIDI)...)
		if err := follower.Listen(port); err != nil {
			return err
		}
		defer follower.Close()
	}
	clk.Start()
	defer clk.Stop()

	if withMonitor {
		p := tea.NewProgram(tui.NewMonitor(clk, sched, bus, reg.Fixtures()), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Send(tea.Quit())
		}()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	clk.Stop()
	wg.Wait()
	return nil
}

func followerOptions(cfg MIDIConfig) []midiclock.Option {
	opts := []midiclock.Option{midiclock.WithLogger(logger)}
	if cfg.TapNote != nil {
		ch := -1
		if cfg.TapChannel != nil {
			ch = *cfg.TapChannel - 1
		}
		opts = append(opts, midiclock.WithTapPad(ch, *cfg.TapNote))
	}
	return opts
}

// openOutputs opens the show's outputs, with flags taking precedence.
func openOutputs(show *Show) ([]dmx.Output, error) {
	var outs []dmx.Output

	an := show.Outputs.ArtNet
	if artnetAddr != "" {
		an = &ArtNetConfig{Address: artnetAddr, Sync: an != nil && an.Sync}
		if artnetAddr == "broadcast" {
			an.Address = ""
		}
	}
	if an != nil {
		a, err := dmx.DialArtNet(an.Address, an.Sync)
		if err != nil {
			return nil, err
		}
		logger.Info("artnet output", "dest", a.Dest().String(), "sync", an.Sync)
		outs = append(outs, a)
	}

	en := show.Outputs.Enttec
	if enttecDevice != "" {
		en = &EnttecConfig{Device: enttecDevice}
		if show.Outputs.Enttec != nil {
			en.Universe = show.Outputs.Enttec.Universe
		}
	}
	if en != nil {
		e, err := dmx.OpenEnttec(en.Device, en.Universe, logger)
		if err != nil {
			for _, o := range outs {
				o.Close()
			}
			return nil, err
		}
		outs = append(outs, e)
	}

	if len(outs) == 0 {
		logger.Warn("no DMX outputs configured; running dry")
	}
	return outs, nil
}
