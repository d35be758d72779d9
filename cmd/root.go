package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	debug    bool
	showPath string
	logFile  string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "lighting7",
	Short: "A beat-synchronised DMX lighting effect engine",
	Long: `lighting7 drives DMX fixtures with tempo-locked effects.

A show file describes the fixture patch, groups, palette, outputs and the
effects to start with. Effects run on a 24 tick-per-beat clock that can
follow an external MIDI clock, and frames are sent over Art-Net or an
Enttec DMX USB Pro.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists
		envErr := godotenv.Load()
		if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", envErr)
		}
		if !cmd.Flags().Changed("show") {
			if v := os.Getenv("LIGHTING7_SHOW"); v != "" {
				showPath = v
			}
		}

		var w io.Writer = os.Stderr
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			w = f
		}
		initLogger(debug, w)
		if envErr == nil {
			logger.Debug("loaded environment from .env")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&showPath, "show", "s", "show.yaml", "Show file (env LIGHTING7_SHOW)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
}

func initLogger(debug bool, w io.Writer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
