package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/testutil"
	"github.com/libris-ai/libris/internal/tools"
)

// researchEnv holds the full research toolset registered against an
// in-memory database and a throwaway export directory.
type researchEnv struct {
	reg       *registry.Registry
	files     *ingest.Store
	exportDir string
}

func newResearchEnv(t *testing.T) *researchEnv {
	t.Helper()

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("genkit.Init returned nil")
	}
	reg := registry.New(g)
	files := ingest.NewWithDB(testutil.NewMemDB(), 1<<20, testutil.DiscardLogger())
	dir := t.TempDir()

	err := tools.RegisterAll(reg, tools.Config{
		Logger:    testutil.DiscardLogger(),
		Documents: files,
		ExportDir: dir,
	})
	if err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return &researchEnv{reg: reg, files: files, exportDir: dir}
}

// connect publishes reg over in-memory transports and returns a client
// session speaking real JSON-RPC to it.
func connect(t *testing.T, reg *registry.Registry) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(Config{
		Name:     "libris",
		Version:  "test",
		Registry: reg,
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.srv.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

// textContent extracts the first content item as text.
func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestListToolsPublishesResearchToolset(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	want := []string{"export_markdown", "fetch_page", "fetch_paper", "read_document", "search_papers"}
	if len(names) != len(want) {
		t.Fatalf("ListTools returned %v, want %v", names, want)
	}
	for i, got := range names {
		if got != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, got, want[i])
		}
	}
}

func TestListToolsCarrySchemas(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	for _, tool := range result.Tools {
		if tool.Description == "" {
			t.Errorf("tool %q has no description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("tool %q has no input schema", tool.Name)
			continue
		}
		if tool.Name == "search_papers" {
			b, err := json.Marshal(tool.InputSchema)
			if err != nil {
				t.Fatalf("marshaling search_papers schema: %v", err)
			}
			if !strings.Contains(string(b), `"query"`) {
				t.Errorf("search_papers schema lacks the query property: %s", b)
			}
		}
	}
}

func TestCallExportMarkdown(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	const content = "# Findings\n\n- one\n"
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "export_markdown",
		Arguments: map[string]any{"filename": "findings.md", "content": content},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("CallTool returned error result: %s", textContent(t, res))
	}
	if text := textContent(t, res); !strings.Contains(text, "libris://export/findings.md") {
		t.Errorf("result = %q, want the export link", text)
	}

	b, err := os.ReadFile(filepath.Join(env.exportDir, "findings.md"))
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if string(b) != content {
		t.Errorf("exported content = %q, want %q", b, content)
	}
}

func TestCallReadDocument(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	file, err := env.files.Ingest(context.Background(), "notes.txt", "text/plain",
		strings.NewReader("The moon landing was in 1969."))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "read_document",
		Arguments: map[string]any{"file_id": file.ID.String()},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("CallTool returned error result: %s", textContent(t, res))
	}

	text := textContent(t, res)
	if !strings.Contains(text, "notes.txt") {
		t.Errorf("result lacks the file header: %q", text)
	}
	if !strings.Contains(text, "moon landing") {
		t.Errorf("result lacks the document text: %q", text)
	}
}

func TestCallToolReportsDomainFailure(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "export_markdown",
		Arguments: map[string]any{"filename": "script.sh", "content": "echo hi"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("CallTool succeeded, want an error result")
	}
	if text := textContent(t, res); !strings.Contains(text, "not allowed") {
		t.Errorf("error text = %q, want the extension complaint", text)
	}
}

func TestCallReadDocumentUnknownFile(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "read_document",
		Arguments: map[string]any{"file_id": uuid.NewString()},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("CallTool succeeded for an unknown file")
	}
	if text := textContent(t, res); !strings.Contains(text, "file not found") {
		t.Errorf("error text = %q, want file not found", text)
	}
}

func TestCallUnknownTool(t *testing.T) {
	env := newResearchEnv(t)
	session := connect(t, env.reg)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "does_not_exist",
	})
	if err == nil {
		t.Fatal("CallTool succeeded for an unknown tool")
	}
	if !strings.Contains(err.Error(), "does_not_exist") {
		t.Errorf("error = %q, want it to name the tool", err)
	}
}

func TestCallToolHonorsSpecTimeout(t *testing.T) {
	reg := testRegistry(t)
	err := registry.Register(reg, registry.Definition[struct{}, string]{
		Name:        "stall",
		Description: "blocks until canceled",
		Timeout:     50 * time.Millisecond,
		Handler: func(ctx context.Context, _ struct{}) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	session := connect(t, reg)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "stall",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("CallTool succeeded, want a timeout error result")
	}
	if text := textContent(t, res); !strings.Contains(text, "deadline exceeded") {
		t.Errorf("error text = %q, want a deadline error", text)
	}
}
