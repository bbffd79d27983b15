package testutil

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic model responses for testing. Scripted
// turns are consumed in FIFO order, one per model call; when the script
// is exhausted the fallback text is returned. This mirrors the router's
// loop: a turn proposing tool calls is followed by another model call,
// so each loop iteration pops the next scripted turn.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	script   []MockTurn
	fallback string
	calls    []MockCall
}

// MockTurn is one scripted model response.
type MockTurn struct {
	Text   string            // response text
	Chunks []string          // explicit stream chunks; defaults to one chunk of Text
	Tools  []*ai.ToolRequest // tool calls to propose alongside the text
	Err    error             // returned instead of a response when set
}

// MockCall records a single call to the mock model.
type MockCall struct {
	LastUserText  string // text of the most recent user message
	ToolResponses int    // tool response parts in the final message
	Messages      int    // total messages in the request
}

// NewMockLLM creates a mock model with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// Enqueue appends turns to the script.
func (m *MockLLM) Enqueue(turns ...MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls and any unconsumed script.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
}

// ModelName is the provider-qualified name RegisterModel uses.
const ModelName = "mock/test-model"

// RegisterModel registers the mock as a genkit model and returns a
// reference.
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, ModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

// generate is the genkit model function.
func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}
	toolResponses := 0
	if n := len(req.Messages); n > 0 {
		for _, part := range req.Messages[n-1].Content {
			if part.ToolResponse != nil {
				toolResponses++
			}
		}
	}

	m.mu.Lock()
	turn := MockTurn{Text: m.fallback}
	if len(m.script) > 0 {
		turn = m.script[0]
		m.script = m.script[1:]
	}
	m.calls = append(m.calls, MockCall{
		LastUserText:  userText,
		ToolResponses: toolResponses,
		Messages:      len(req.Messages),
	})
	m.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	if cb != nil {
		chunks := turn.Chunks
		if chunks == nil && turn.Text != "" {
			chunks = []string{turn.Text}
		}
		for _, chunk := range chunks {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(chunk)},
			}); err != nil {
				return nil, err
			}
		}
	}

	var parts []*ai.Part
	for _, tr := range turn.Tools {
		parts = append(parts, &ai.Part{
			Kind:        ai.PartToolRequest,
			ToolRequest: tr,
		})
	}
	if turn.Text != "" {
		parts = append(parts, ai.NewTextPart(turn.Text))
	}
	if len(parts) == 0 {
		parts = append(parts, ai.NewTextPart(""))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}
