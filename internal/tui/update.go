package tui

import (
	"context"
	"errors"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Viewport height: total minus input, separators and help bar.
		inputHeight := m.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(vpHeight)
		m.input.SetWidth(msg.Width - 4) // room for the "> " prompt
		m.help.SetWidth(msg.Width)
		m.markdown.UpdateWidth(msg.Width)

		m.rebuildTranscript()
		return m, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// The spinner shows until the first response text arrives, so
		// keep animating through the tool-running phase too.
		if m.state == StateThinking || (m.state == StateStreaming && m.response == "") {
			m.rebuildTranscript()
		}
		return m, cmd

	case streamStartedMsg:
		m.streamCancel = msg.cancel
		m.streamEventCh = msg.eventCh
		m.state = StateStreaming
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, listenForStream(msg.eventCh)

	case streamTraceMsg:
		// Completed tool invocations land in the transcript as dimmed
		// lines, above the response that cites them.
		m.addMessage(Message{Role: roleTool, Text: msg.trace})
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, listenForStream(m.streamEventCh)

	case streamTextMsg:
		// Response events carry the full text so far; replace, never
		// append.
		m.response = msg.text
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, listenForStream(m.streamEventCh)

	case streamDoneMsg:
		m.state = StateInput
		if m.streamCancel != nil {
			m.streamCancel()
			m.streamCancel = nil
		}
		m.streamEventCh = nil

		// The persisted turn is authoritative; the accumulated text is
		// only a fallback.
		text := ""
		if msg.turn != nil {
			text = msg.turn.Text
		}
		if text == "" {
			text = m.response
		}
		if text != "" {
			m.addMessage(Message{Role: roleAssistant, Text: text})
		}
		if msg.turn != nil && msg.turn.Incomplete {
			m.addMessage(Message{Role: roleSystem, Text: interruptNote(msg.cause)})
		}
		m.response = ""
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, m.input.Focus()

	case streamErrorMsg:
		m.state = StateInput
		if m.streamCancel != nil {
			m.streamCancel()
			m.streamCancel = nil
		}
		m.streamEventCh = nil

		switch {
		case errors.Is(msg.err, context.Canceled):
			m.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		case errors.Is(msg.err, context.DeadlineExceeded):
			m.addMessage(Message{Role: roleError, Text: "Turn timed out (>5 min). Try a narrower question or break it into steps."})
		default:
			m.addMessage(Message{Role: roleError, Text: msg.err.Error()})
		}
		m.response = ""
		m.rebuildTranscript()
		m.viewport.GotoBottom()
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// interruptNote explains why a turn stopped early.
func interruptNote(cause error) string {
	if errors.Is(cause, context.DeadlineExceeded) {
		return "(Timed out; partial response saved)"
	}
	return "(Canceled; partial response saved)"
}
