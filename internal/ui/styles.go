// Package ui renders synchronization results for the terminal.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86C06C"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#E6B450"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F07178"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#59C2FF"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#8A9199"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Init picks the color profile for out. Colors are disabled when out is
// not a terminal, when noColor is set or when NO_COLOR is exported.
func Init(out io.Writer, noColor bool) {
	f, ok := out.(*os.File)
	if noColor || !ok || !IsTerminal(f) || termenv.EnvNoColor() {
		DisableColor()
		return
	}

	output := termenv.NewOutput(out)
	lipgloss.SetColorProfile(output.EnvColorProfile())
	lipgloss.SetHasDarkBackground(output.HasDarkBackground())
}

// DisableColor makes every Render function return its input unchanged.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
