package testutil

import (
	"testing"
)

func TestParseNDJSON_Basic(t *testing.T) {
	body := `{"type":"tool","content":"Tool called: search_papers"}
{"type":"response","content":"Here is"}
{"type":"response","content":"Here is what I found."}
{"type":"done","message_id":"8f14e45f-ceea-4677-a1b8-54c0a7d3f2aa"}
`
	lines := ParseNDJSON(t, body)

	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}

	if lines[0].Type != "tool" {
		t.Errorf("expected first line type 'tool', got %q", lines[0].Type)
	}
	if lines[2].Content != "Here is what I found." {
		t.Errorf("expected cumulative content, got %q", lines[2].Content)
	}
	if lines[3].Type != "done" || lines[3].MessageID == "" {
		t.Errorf("expected terminating done frame with message_id, got %+v", lines[3])
	}
}

func TestParseNDJSON_TrailingNewline(t *testing.T) {
	// A single line with no trailing newline is still one event.
	lines := ParseNDJSON(t, `{"type":"response","content":"done"}`)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
}

func TestParseNDJSON_EmbeddedNewlines(t *testing.T) {
	// Newlines inside content are JSON-escaped and must not split lines.
	body := `{"type":"response","content":"line one\nline two"}
`
	lines := ParseNDJSON(t, body)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].Content != "line one\nline two" {
		t.Errorf("expected multi-line content, got %q", lines[0].Content)
	}
}

func TestFindLine(t *testing.T) {
	lines := []NDJSONLine{
		{Type: "response", Content: "partial"},
		{Type: "response", Content: "full"},
		{Type: "done", MessageID: "id-1"},
	}

	found := FindLine(lines, "done")
	if found == nil {
		t.Fatal("expected to find 'done' line")
	}
	if found.MessageID != "id-1" {
		t.Errorf("expected message id 'id-1', got %q", found.MessageID)
	}

	if FindLine(lines, "tool") != nil {
		t.Error("expected nil for absent line type")
	}
}

func TestFindAllLines(t *testing.T) {
	lines := []NDJSONLine{
		{Type: "response", Content: "partial"},
		{Type: "response", Content: "full"},
		{Type: "done", MessageID: "id-1"},
	}

	responses := FindAllLines(lines, "response")
	if len(responses) != 2 {
		t.Fatalf("expected 2 response lines, got %d", len(responses))
	}

	if len(FindAllLines(lines, "tool")) != 0 {
		t.Fatal("expected 0 tool lines")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()
	if logger == nil {
		t.Fatal("DiscardLogger should not return nil")
	}

	// Should not panic when logging
	logger.Info("test message")
	logger.Error("error message")
}
