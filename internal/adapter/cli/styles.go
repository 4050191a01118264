package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive colors work on light and dark terminals. lipgloss drops them
// entirely when NO_COLOR is set.
var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
)

var (
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleTitle   = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)
	styleCode    = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleFile    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	stylePrompt  = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)
)

// symbols holds the glyphs used in output. ASCII fallbacks are used when
// the terminal is unlikely to render Unicode.
type symbols struct {
	Success string
	Error   string
	Bullet  string
	Arrow   string
}

var (
	unicodeSymbols = symbols{Success: "✓", Error: "✗", Bullet: "•", Arrow: "→"}
	asciiSymbols   = symbols{Success: "[OK]", Error: "[ERR]", Bullet: "*", Arrow: "->"}
)

var sym = detectSymbols()

// detectSymbols honours CODEGEN_ASCII_SYMBOLS=1 and otherwise assumes a
// UTF-8 capable terminal.
func detectSymbols() symbols {
	if v := os.Getenv("CODEGEN_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return asciiSymbols
	}
	return unicodeSymbols
}
