package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/agent"
	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/stream"
	"github.com/libris-ai/libris/internal/testutil"
)

// uploadLimit bounds test uploads so the too-large path stays cheap.
const uploadLimit = 1 << 20

// apiEnv runs the full transport stack over an in-memory database and
// a scripted model.
type apiEnv struct {
	llm    *testutil.MockLLM
	reg    *registry.Registry
	db     *testutil.MemDB
	chats  *conversation.Store
	files  *ingest.Store
	server *httptest.Server
}

func newAPIEnv(t *testing.T, mutate func(*Config)) *apiEnv {
	t.Helper()

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("genkit.Init returned nil")
	}
	llm := testutil.NewMockLLM("fallback answer")
	llm.RegisterModel(g)
	reg := registry.New(g)

	router, err := agent.New(agent.Config{
		Genkit:    g,
		Registry:  reg,
		Logger:    testutil.DiscardLogger(),
		ModelName: testutil.ModelName,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	db := testutil.NewMemDB()
	chats := conversation.NewWithDB(db, testutil.DiscardLogger())
	files := ingest.NewWithDB(db, uploadLimit, testutil.DiscardLogger())

	mux, err := stream.New(stream.Config{
		Router:      router,
		Store:       chats,
		Logger:      testutil.DiscardLogger(),
		Attachments: files,
	})
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}

	cfg := Config{
		Logger: testutil.DiscardLogger(),
		Chats:  chats,
		Mux:    mux,
		Files:  files,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiEnv{llm: llm, reg: reg, db: db, chats: chats, files: files, server: ts}
}

// newChat creates a chat directly in the store, optionally seeded with
// one completed exchange so the turn under test is not the chat's
// first (and triggers no title generation).
func (e *apiEnv) newChat(t *testing.T, seed bool) uuid.UUID {
	t.Helper()
	chat, err := e.chats.CreateChat(context.Background(), "New chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if seed {
		ctx := context.Background()
		for _, turn := range []*conversation.Turn{
			{ChatID: chat.ID, Role: conversation.RoleUser, Text: "earlier question"},
			{ChatID: chat.ID, Role: conversation.RoleModel, Text: "earlier answer"},
		} {
			if err := e.chats.PersistTurn(ctx, turn); err != nil {
				t.Fatalf("PersistTurn: %v", err)
			}
		}
	}
	return chat.ID
}

func (e *apiEnv) registerEcho(t *testing.T, name string) {
	t.Helper()
	type in struct {
		Query string `json:"query" jsonschema_description:"What to look up"`
	}
	err := registry.Register(e.reg, registry.Definition[in, string]{
		Name:        name,
		Description: "echoes the query",
		Handler: func(_ context.Context, in in) (string, error) {
			return "result for " + in.Query, nil
		},
	})
	if err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
}

// get issues a GET against the test server.
func (e *apiEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// postJSON posts a JSON-encoded body against the test server.
func (e *apiEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// del issues a DELETE against the test server.
func (e *apiEnv) del(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("building DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// decodeJSON decodes the response body into out and closes it.
func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// readBody drains the response body and closes it.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(b)
}

// wantError asserts status and machine error code, consuming the body.
func wantError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var er ErrorResponse
	decodeJSON(t, resp, &er)
	if er.Error != code {
		t.Errorf("error code = %q, want %q", er.Error, code)
	}
}
