package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdown renders assistant replies for the terminal. Rendering errors
// fall back to the raw text.
type markdown struct {
	width    int
	renderer *glamour.TermRenderer
}

func (m *markdown) setWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.renderer = nil
}

func (m *markdown) render(content string) string {
	if m.renderer == nil {
		w := m.width
		if w <= 0 || w > 100 {
			w = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(w-4),
		)
		if err != nil {
			return content
		}
		m.renderer = r
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
