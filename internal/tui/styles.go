package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Brand color, a parchment amber.
const librisAmber = "#D7AF5F"

// LIBRIS ASCII art banner.
var librisArt = []string{
	"    ██╗     ██╗██████╗ ██████╗ ██╗███████╗",
	"    ██║     ██║██╔══██╗██╔══██╗██║██╔════╝",
	"    ██║     ██║██████╔╝██████╔╝██║███████╗",
	"    ██║     ██║██╔══██╗██╔══██╗██║╚════██║",
	"    ███████╗██║██████╔╝██║  ██║██║███████║",
	"    ╚══════╝╚═╝╚═════╝ ╚═╝  ╚═╝╚═╝╚══════╝",
}

// styles contains all lipgloss styles for the terminal client.
type styles struct {
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Tool      lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(librisAmber)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(librisAmber)),
		Tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// renderBanner returns the styled LIBRIS banner.
func (s styles) renderBanner() string {
	var b strings.Builder
	for _, line := range librisArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips shows under the banner until the first exchange scrolls
// it away.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Ask for papers on a topic to run a federated literature search",
	"  • Paste a DOI or URL to pull in a specific paper or page",
	"  • Ask to export your findings when you want a markdown report",
	"  • Use /help for commands; Esc cancels a running turn",
}

// renderWelcomeTips returns the styled tips block.
func (s styles) renderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
