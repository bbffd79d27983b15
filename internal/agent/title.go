package agent

import (
	"context"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/libris-ai/libris/internal/conversation"
)

// TitleTimeout bounds title generation so it cannot hold up the first
// streamed turn.
const TitleTimeout = 5 * time.Second

// titleInputMaxRunes limits how much of the user message is sent to the
// model for title generation.
const titleInputMaxRunes = 500

const titlePrompt = `Generate a concise title (max 50 characters) for a chat based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle produces a short chat title from the first user
// message. Returns "" on failure; callers fall back to
// conversation.FallbackTitle on the raw message.
func (r *Router) GenerateTitle(ctx context.Context, message string) string {
	ctx, cancel := context.WithTimeout(ctx, TitleTimeout)
	defer cancel()

	runes := []rune(message)
	if len(runes) > titleInputMaxRunes {
		message = string(runes[:titleInputMaxRunes]) + "…"
	}

	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithPrompt(titlePrompt, message),
	)
	if err != nil {
		r.logger.Debug("title generation failed, falling back to truncation", "error", err)
		return ""
	}

	title := strings.TrimSpace(resp.Text())
	if title == "" {
		return ""
	}
	return conversation.FallbackTitle(title)
}
