package tui

import (
	"context"
	"errors"
	"fmt"

	tea "charm.land/bubbletea/v2"

	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/stream"
)

// streamBufferSize absorbs event bursts during UI render delays
// without blocking the turn.
const streamBufferSize = 100

// streamEvent is a discriminated union for all turn events. One
// channel with a union type keeps the listen loop a single receive.
type streamEvent struct {
	// Exactly one of these is set per event.
	trace string             // completed tool invocation trace
	text  string             // cumulative response text
	turn  *conversation.Turn // persisted turn (when done is true)
	err   error
	done  bool

	// cause records why a done turn is incomplete (Esc, timeout).
	cause error
}

// Bubble Tea message types for the stream life cycle.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTraceMsg struct {
	trace string
}

type streamTextMsg struct {
	text string
}

type streamDoneMsg struct {
	turn  *conversation.Turn
	cause error
}

type streamErrorMsg struct {
	err error
}

// startStream creates a command that runs one turn through the mux.
//
// The spawned goroutine exits when the event sequence ends, the
// context is canceled, or setup fails. Channel closure signals
// completion; no WaitGroup needed.
func (m *Model) startStream(message string) tea.Cmd {
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)
		ctx, cancel := context.WithTimeout(m.ctx, streamTimeout)

		go func() {
			defer cancel()
			defer close(eventCh)

			// A panic here would silently freeze the UI in the
			// streaming state.
			defer func() {
				if r := recover(); r != nil {
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			ts, err := m.mux.Stream(ctx, stream.Request{
				ChatID:  m.chatID,
				Message: message,
			})
			if err != nil {
				select {
				case eventCh <- streamEvent{err: err}:
				default:
				}
				return
			}

			for ev, err := range ts.Events() {
				if err != nil {
					select {
					case eventCh <- streamEvent{err: err}:
					case <-ctx.Done():
					}
					return
				}
				var out streamEvent
				switch ev.Kind {
				case stream.KindTool:
					out = streamEvent{trace: ev.Payload}
				case stream.KindResponse:
					out = streamEvent{text: ev.Payload}
				default:
					continue
				}
				select {
				case eventCh <- out:
				case <-ctx.Done():
					return
				}
			}

			// The sequence ended. A persisted turn means completion,
			// possibly a partial one after cancellation or timeout.
			if turn := ts.Turn(); turn != nil {
				select {
				case eventCh <- streamEvent{done: true, turn: turn, cause: ctx.Err()}:
				default:
				}
				return
			}

			err = ctx.Err()
			if err == nil {
				err = errors.New("stream ended without a persisted turn")
			}
			select {
			case eventCh <- streamEvent{err: err}:
			default:
			}
		}()

		return streamStartedMsg{eventCh: eventCh, cancel: cancel}
	}
}

// listenForStream creates a command that waits for the next stream
// event. Empty events are skipped via the loop rather than recursion.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				return streamErrorMsg{err: errors.New("stream ended without completion signal")}
			}

			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{turn: event.turn, cause: event.cause}
			case event.trace != "":
				return streamTraceMsg{trace: event.trace}
			case event.text != "":
				return streamTextMsg{text: event.text}
			default:
				continue
			}
		}
	}
}
