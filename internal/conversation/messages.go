package conversation

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Messages folds a chat's history into model messages for the router.
// Only turn text enters the model context; tool invocation records stay
// a persistence-side artifact. Incomplete turns are folded as-is, the
// partial text is still useful context.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID, limit int32) ([]*ai.Message, error) {
	turns, err := s.History(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("folding history: %w", err)
	}
	return FoldTurns(turns), nil
}

// FoldTurns converts persisted turns to model messages in order.
// Turns with no text are skipped; the model gains nothing from an
// empty message.
func FoldTurns(turns []*Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Text == "" {
			continue
		}
		switch turn.Role {
		case RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		case RoleModel:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		}
	}
	return msgs
}
