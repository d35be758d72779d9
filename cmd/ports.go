package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cjcormack/lighting7-sub001/internal/dmx"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI inputs and serial devices",
	Long: `List the MIDI inputs a clock or tap pad can be followed from, and the
serial devices an Enttec DMX USB Pro may be attached to.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

var headingStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7D56F4"))

func runPorts(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, headingStyle.Render("MIDI inputs"))
	ins := midi.GetInPorts()
	if len(ins) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, in := range ins {
		fmt.Fprintf(out, "  %s\n", in.String())
	}

	fmt.Fprintln(out, headingStyle.Render("Serial devices"))
	serials, err := dmx.SerialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(serials) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, s := range serials {
		fmt.Fprintf(out, "  %s\n", s)
	}
	return nil
}
