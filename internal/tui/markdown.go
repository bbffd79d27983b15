package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer converts markdown to styled terminal output via
// glamour. The underlying renderer is cached and only rebuilt when the
// terminal width actually changes.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

func newTermRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // light/dark terminal detection
		glamour.WithWordWrap(width),
	)
}

// newMarkdownRenderer creates a renderer for the given width. A nil
// return degrades rendering to plain text.
func newMarkdownRenderer(width int) *markdownRenderer {
	if width <= 0 {
		width = 80
	}

	r, err := newTermRenderer(width)
	if err != nil {
		return nil
	}

	return &markdownRenderer{renderer: r, width: width}
}

// UpdateWidth rebuilds the renderer if the width changed. Reports
// whether a rebuild happened.
func (m *markdownRenderer) UpdateWidth(width int) bool {
	if m == nil || width <= 0 || m.width == width {
		return false
	}

	r, err := newTermRenderer(width)
	if err != nil {
		// Keep the existing renderer.
		return false
	}

	m.renderer = r
	m.width = width
	return true
}

// Render converts markdown to styled output, falling back to the raw
// text on any failure.
func (m *markdownRenderer) Render(markdown string) string {
	if m == nil || m.renderer == nil {
		return markdown
	}

	rendered, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}

	// Glamour appends a trailing newline.
	return strings.TrimSuffix(rendered, "\n")
}
