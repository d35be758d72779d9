package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cjcormack/lighting7-sub001/internal/fixture"
	"github.com/cjcormack/lighting7-sub001/internal/fx"
)

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Show the patch, groups and effect library",
	RunE: func(cmd *cobra.Command, args []string) error {
		show, err := LoadShow(showPath)
		if err != nil {
			return err
		}
		reg, err := show.Build()
		if err != nil {
			return err
		}
		printPatch(cmd.OutOrStdout(), reg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fixturesCmd)
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))

func printPatch(w io.Writer, reg *fixture.Registry) {
	fmt.Fprintln(w, headingStyle.Render("Fixtures"))
	for _, f := range reg.Fixtures() {
		end := f.Address + f.Type.Width() - 1
		fmt.Fprintf(w, "  %-12s %-10s u%d %3d-%-3d %s\n", f.Key, f.Type.Name, f.Universe, f.Address, end, describeType(f.Type))
		for _, e := range f.Elements() {
			fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("%-10s %-10s @%d", e.Key, e.Type.Name, e.Address)))
		}
	}

	fmt.Fprintln(w, headingStyle.Render("Groups"))
	for _, g := range reg.Groups() {
		keys := make([]string, 0, g.Len())
		for _, m := range g.Members() {
			keys = append(keys, m.Key())
		}
		fmt.Fprintf(w, "  %-12s %s\n", g.Name, strings.Join(keys, ", "))
	}

	fmt.Fprintln(w, headingStyle.Render("Effects"))
	fmt.Fprintf(w, "  %s\n", strings.Join(fx.Names(), ", "))
}

func describeType(t *fixture.Type) string {
	var parts []string
	if t.HasColour() {
		parts = append(parts, "colour")
	}
	if t.HasPosition() {
		parts = append(parts, "position")
	}
	parts = append(parts, t.Sliders()...)
	for _, s := range t.Settings() {
		parts = append(parts, "setting:"+s)
	}
	if len(t.Heads) > 0 {
		parts = append(parts, fmt.Sprintf("%d heads", len(t.Heads)))
	}
	return strings.Join(parts, " ")
}
