package tui

import (
	"strings"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
)

// View implements tea.Model. AltScreen with a viewport transcript.
func (m *Model) View() tea.View {
	m.viewBuf.Reset()

	_, _ = m.viewBuf.WriteString(m.viewport.View())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	// The input stays visible and usable during streaming, so the next
	// question can be typed while a turn runs.
	_, _ = m.viewBuf.WriteString(m.styles.Prompt.Render("> "))
	_, _ = m.viewBuf.WriteString(m.input.View())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderSeparator())
	_, _ = m.viewBuf.WriteString("\n")

	_, _ = m.viewBuf.WriteString(m.renderStatusBar())

	v := tea.NewView(m.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildTranscript reconstructs the viewport content from messages
// and the in-flight response. Called when either changes.
func (m *Model) rebuildTranscript() {
	var b strings.Builder

	_, _ = b.WriteString(m.styles.renderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(m.styles.renderWelcomeTips())
	_, _ = b.WriteString("\n")

	for _, msg := range m.messages {
		switch msg.Role {
		case roleUser:
			_, _ = b.WriteString(m.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case roleAssistant:
			_, _ = b.WriteString(m.styles.Assistant.Render("Libris> "))
			_, _ = b.WriteString(m.markdown.Render(msg.Text))
		case roleTool:
			_, _ = b.WriteString(m.styles.Tool.Render(msg.Text))
		case roleSystem:
			_, _ = b.WriteString(m.styles.System.Render(msg.Text))
		case roleError:
			_, _ = b.WriteString(m.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	// In-flight response, rendered plain; markdown styling is applied
	// once the turn completes.
	if m.state == StateStreaming && m.response != "" {
		_, _ = b.WriteString(m.styles.Assistant.Render("Libris> "))
		_, _ = b.WriteString(m.response)
		_, _ = b.WriteString("\n\n")
	}

	if m.state == StateThinking || (m.state == StateStreaming && m.response == "") {
		_, _ = b.WriteString(m.spinner.View())
		_, _ = b.WriteString(" Working...\n\n")
	}

	m.viewport.SetContent(b.String())
}

// renderSeparator returns a horizontal line across the terminal.
func (m *Model) renderSeparator() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	return m.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (m *Model) renderStatusBar() string {
	var bindings []key.Binding
	switch m.state {
	case StateInput:
		bindings = []key.Binding{
			m.keys.Submit, m.keys.NewLine, m.keys.History,
			m.keys.Cancel, m.keys.Quit, m.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			m.keys.EscCancel, m.keys.Cancel,
			m.keys.ScrollUp, m.keys.ScrollDown,
		}
	}
	return m.help.ShortHelpView(bindings)
}
