// Package stream merges the router's tool notifications and response
// text into one ordered, consume-once event sequence, and persists the
// finished turn. Transports (HTTP streaming, the TUI) only ever see
// this package's events, never the router directly.
package stream

import (
	"fmt"

	"github.com/libris-ai/libris/internal/conversation"
)

// Kind discriminates stream events. The values are stable wire strings.
type Kind string

const (
	// KindTool is a completed tool invocation trace.
	KindTool Kind = "tool"

	// KindResponse is cumulative response text. Every event carries the
	// full text so far; the last one is the complete response.
	KindResponse Kind = "response"
)

// Event is one element of a turn's output sequence.
type Event struct {
	Kind    Kind   `json:"type"`
	Payload string `json:"content"`
}

// traceOutputMax caps how much tool output a trace payload carries.
const traceOutputMax = 500

// Trace renders a completed invocation as a tool event payload.
func Trace(inv conversation.ToolInvocation) string {
	out := inv.Result
	if inv.Err != "" {
		out = "error: " + inv.Err
	}
	return fmt.Sprintf("Tool called: %s\nTool output: %s", inv.Tool, truncateRunes(out, traceOutputMax))
}

// truncateRunes shortens s to at most max runes, appending an ellipsis
// when anything was cut.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
