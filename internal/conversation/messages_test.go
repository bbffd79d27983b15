package conversation

import (
	"testing"

	"github.com/firebase/genkit/go/ai"
)

func TestFoldTurns(t *testing.T) {
	turns := []*Turn{
		{Seq: 1, Role: RoleUser, Text: "find papers on CRISPR"},
		{Seq: 2, Role: RoleModel, Text: "Here are three papers.", Invocations: []ToolInvocation{
			{Tool: "search_papers", Result: "…"},
		}},
		{Seq: 3, Role: RoleUser, Text: "summarize the first one"},
		{Seq: 4, Role: RoleModel, Text: "The first paper shows…"},
	}

	msgs := FoldTurns(turns)

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	wantRoles := []ai.Role{ai.RoleUser, ai.RoleModel, ai.RoleUser, ai.RoleModel}
	for i, msg := range msgs {
		if msg.Role != wantRoles[i] {
			t.Errorf("message %d: role = %q, want %q", i, msg.Role, wantRoles[i])
		}
	}

	// Order must follow sequence order, and only the text survives the fold.
	if got := msgs[1].Text(); got != "Here are three papers." {
		t.Errorf("message 1 text = %q", got)
	}
}

func TestFoldTurnsSkipsEmptyText(t *testing.T) {
	turns := []*Turn{
		{Seq: 1, Role: RoleUser, Text: "hello"},
		{Seq: 2, Role: RoleModel, Text: "", Incomplete: true},
		{Seq: 3, Role: RoleUser, Text: "still there?"},
	}

	msgs := FoldTurns(turns)

	if len(msgs) != 2 {
		t.Fatalf("expected empty turn to be skipped, got %d messages", len(msgs))
	}
	if msgs[1].Text() != "still there?" {
		t.Errorf("second message text = %q", msgs[1].Text())
	}
}

func TestFoldTurnsKeepsIncompleteText(t *testing.T) {
	turns := []*Turn{
		{Seq: 1, Role: RoleModel, Text: "Partial answer before cancel", Incomplete: true},
	}

	msgs := FoldTurns(turns)

	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Text() != "Partial answer before cancel" {
		t.Errorf("text = %q", msgs[0].Text())
	}
}

func TestFoldTurnsEmpty(t *testing.T) {
	if msgs := FoldTurns(nil); len(msgs) != 0 {
		t.Errorf("expected no messages for nil turns, got %d", len(msgs))
	}
}
