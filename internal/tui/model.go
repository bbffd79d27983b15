// Package tui is the terminal client: a Bubble Tea program that runs
// turns through the streaming mux in-process, so the terminal sees the
// same event sequence as the HTTP transport.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/stream"
)

// State represents the input/streaming state machine.
type State int

const (
	StateInput     State = iota // awaiting user input
	StateThinking               // turn submitted, no events yet
	StateStreaming              // consuming turn events
)

// Memory bounds so a long session cannot grow without limit.
const (
	maxMessages = 200 // transcript entries kept
	maxHistory  = 100 // input history entries kept
)

// streamTimeout bounds one turn end to end. Research turns can chain
// several long tool calls, so this is generous.
const streamTimeout = 5 * time.Minute

// Transcript entry roles.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // above and below the input
	helpLines      = 1
	promptLines    = 1
	minViewport    = 3
)

// Message is one transcript entry.
type Message struct {
	Role string
	Text string
}

// Model is the Bubble Tea model for the terminal client.
type Model struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	state     State
	lastCtrlC time.Time

	// Output. response holds the in-flight turn's cumulative text; it
	// moves into messages when the turn finishes.
	spinner  spinner.Model
	response string
	viewBuf  strings.Builder
	messages []Message

	viewport viewport.Model

	help help.Model
	keys keyMap

	// Stream management. A single union channel carries all turn
	// events; Bubble Tea's event loop provides the synchronization.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent

	mux    *stream.Mux
	chatID uuid.UUID

	ctx       context.Context
	ctxCancel context.CancelFunc

	width  int
	height int

	styles styles

	// Markdown rendering (nil degrades to plain text)
	markdown *markdownRenderer
}

// addMessage appends a transcript entry and enforces maxMessages.
func (m *Model) addMessage(msg Message) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

// New creates a terminal client for one chat.
//
// ctx must be the same context passed to tea.WithContext so
// cancellation behaves consistently.
func New(ctx context.Context, mux *stream.Mux, chatID uuid.UUID) (*Model, error) {
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if mux == nil {
		return nil, errors.New("tui.New: mux is required")
	}
	if chatID == uuid.Nil {
		return nil, errors.New("tui.New: chat id is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	// Enter submits, Shift+Enter adds a newline.
	ta := textarea.New()
	ta.Placeholder = "Ask a research question..."
	ta.SetHeight(1)
	ta.SetWidth(120) // updated on WindowSizeMsg
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	// Plain text input, no backgrounds.
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Keys are routed explicitly in handleKey; the viewport's own
	// bindings would conflict with textarea and history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	return &Model{
		mux:       mux,
		chatID:    chatID,
		ctx:       ctx,
		ctxCancel: cancel,
		input:     ta,
		spinner:   sp,
		viewport:  vp,
		help:      help.New(),
		keys:      newKeyMap(),
		styles:    defaultStyles(),
		history:   make([]string, 0, maxHistory),
		markdown:  newMarkdownRenderer(80),
		width:     80, // until WindowSizeMsg arrives
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.input.Focus(),
	)
}
