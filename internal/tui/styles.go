package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/cjcormack/lighting7-sub001/internal/colour"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

// beatColours run from cyan to magenta across a beat pulse.
var beatColours = []string{
	"#444444", "#00B2FF", "#0080FF", "#3333FF",
	"#6600FF", "#9900FF", "#CC00FF", "#FF00FF",
}

func hex(c colour.Extended) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// Swatch renders a two-cell block in a fixture's current colour.
func Swatch(c colour.Extended) string {
	return lipgloss.NewStyle().Foreground(hex(c)).Render("██")
}
