package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
)

// NDJSONLine is one parsed line of a streamed NDJSON response: a
// stream event ("tool", "response") or the terminating "done" frame.
type NDJSONLine struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

// ParseNDJSON parses an NDJSON body into structured lines. Every line
// must be a JSON object with a type field; blank lines are rejected.
//
// Example:
//
//	lines := testutil.ParseNDJSON(t, responseBody)
//	require.Equal(t, "done", lines[len(lines)-1].Type)
func ParseNDJSON(t *testing.T, body string) []NDJSONLine {
	t.Helper()

	var lines []NDJSONLine
	scanner := bufio.NewScanner(strings.NewReader(body))
	// Response events carry cumulative text, so lines can get long.
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			t.Fatalf("NDJSON parse error at line %d: blank line", lineNum)
		}

		var line NDJSONLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("NDJSON parse error at line %d: %v (%q)", lineNum, err, raw)
		}
		if line.Type == "" {
			t.Fatalf("NDJSON parse error at line %d: missing type field (%q)", lineNum, raw)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("NDJSON scan error: %v", err)
	}

	return lines
}

// FindLine finds the first line of a given type.
// Returns nil if not found.
func FindLine(lines []NDJSONLine, typ string) *NDJSONLine {
	for i := range lines {
		if lines[i].Type == typ {
			return &lines[i]
		}
	}
	return nil
}

// FindAllLines finds all lines of a given type.
func FindAllLines(lines []NDJSONLine, typ string) []NDJSONLine {
	var found []NDJSONLine
	for _, l := range lines {
		if l.Type == typ {
			found = append(found, l)
		}
	}
	return found
}
