// Package tools provides the research toolset: federated paper search,
// paper and web page fetching, ingested document reads and markdown
// export. Every tool is registered through the agent's tool registry;
// RegisterAll wires the full set during application startup.
package tools

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/security"
)

// userAgent identifies libris to upstream services. Academic APIs ask
// polite clients to send a descriptive agent string.
const userAgent = "libris/1.0 (research assistant; +https://github.com/libris-ai/libris)"

// resultMaxRunes caps tool output so one oversized page cannot flood
// the model context.
const resultMaxRunes = 20000

// URLValidator guards outbound fetches against SSRF. Implemented by
// security.HTTP.
type URLValidator interface {
	ValidateURL(url string) error
}

// safeDialer is the optional upgrade a validator can offer: transport
// level protection that re-checks resolved addresses at dial time and
// redirect targets hop by hop. security.HTTP implements it; the
// fetchers use it when available and fall back to a plain client for
// simpler validators in tests.
type safeDialer interface {
	Transport() *http.Transport
	Client(timeout time.Duration) *http.Client
}

// DocumentStore resolves uploaded files for read_document. Implemented
// by the ingest store.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*ingest.File, error)
}

// Config contains all parameters for RegisterAll.
type Config struct {
	Logger log.Logger

	// Documents backs read_document. Nil skips the tool.
	Documents DocumentStore

	// ExportDir enables export_markdown when set.
	ExportDir string

	// Validator guards fetch_paper and fetch_page URLs. Nil uses
	// security.NewHTTP().
	Validator URLValidator

	// Mail identifies the operator to polite-pool APIs (CrossRef,
	// OpenAlex). Optional but recommended for production use.
	Mail string

	// SemanticScholarKey raises the Semantic Scholar rate limit.
	SemanticScholarKey string

	// MaxResultsPerSource caps search hits per source (default 5).
	MaxResultsPerSource int

	// Parallelism, Delay and Timeout govern the page fetcher's
	// per-domain politeness limits.
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
}

// RegisterAll registers the research toolset. read_document and
// export_markdown are skipped when their backing dependency is not
// configured; the model only sees tools that can actually run.
func RegisterAll(reg *registry.Registry, cfg Config) error {
	if reg == nil {
		return errors.New("tools: registry is required")
	}
	if cfg.Logger == nil {
		return errors.New("tools: logger is required")
	}
	validator := cfg.Validator
	if validator == nil {
		validator = security.NewHTTP()
	}

	searcher := NewSearcher(SearcherConfig{
		Logger:              cfg.Logger,
		Mail:                cfg.Mail,
		SemanticScholarKey:  cfg.SemanticScholarKey,
		MaxResultsPerSource: cfg.MaxResultsPerSource,
	})
	if err := registry.Register(reg, registry.Definition[SearchInput, string]{
		Name: "search_papers",
		Description: "Search for academic papers across Semantic Scholar, arXiv, CrossRef, " +
			"PubMed Central and OpenAlex. Returns titles, authors, years, abstracts, DOIs and PDF links.",
		Parallelizable: true,
		Timeout:        45 * time.Second,
		Handler:        searcher.Search,
	}); err != nil {
		return err
	}

	papers := NewPaperFetcher(validator, cfg.Logger)
	if err := registry.Register(reg, registry.Definition[PaperInput, string]{
		Name: "fetch_paper",
		Description: "Download an academic paper by URL or DOI and return its extracted text. " +
			"Follows citation_pdf_url links on landing pages and falls back to the readable article text.",
		Timeout: 2 * time.Minute,
		Handler: papers.Fetch,
	}); err != nil {
		return err
	}

	pages, err := NewPageFetcher(FetcherConfig{
		Validator:   validator,
		Logger:      cfg.Logger,
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(reg, registry.Definition[PageInput, string]{
		Name:           "fetch_page",
		Description:    "Fetch a web page and return its readable text content.",
		Parallelizable: true,
		Timeout:        45 * time.Second,
		Handler:        pages.Fetch,
	}); err != nil {
		return err
	}

	if cfg.Documents != nil {
		docs := &DocumentReader{store: cfg.Documents, logger: cfg.Logger}
		if err := registry.Register(reg, registry.Definition[DocumentInput, string]{
			Name:        "read_document",
			Description: "Read the full extracted text of a file the user uploaded, by file id.",
			Handler:     docs.Read,
		}); err != nil {
			return err
		}
	}

	if cfg.ExportDir != "" {
		exporter, err := NewExporter(cfg.ExportDir, cfg.Logger)
		if err != nil {
			return err
		}
		if err := registry.Register(reg, registry.Definition[ExportInput, string]{
			Name: "export_markdown",
			Description: "Write a markdown, plain text or HTML document to the export directory " +
				"and return a download link. Use this when the user asks to save or export results.",
			Parallelizable: true,
			Required:       true,
			Handler:        exporter.Export,
		}); err != nil {
			return err
		}
	}

	cfg.Logger.Debug("research tools registered", "tools", strings.Join(reg.Names(), ", "))
	return nil
}

// truncateResult caps a tool result at resultMaxRunes.
func truncateResult(s string) string {
	runes := []rune(s)
	if len(runes) <= resultMaxRunes {
		return s
	}
	return string(runes[:resultMaxRunes]) + "\n[truncated]"
}

// header prefixes fetched text with its origin so the model can cite
// the source.
func header(sourceURL string) string {
	return "Source: " + sourceURL + "\n\n"
}

// snippet trims an upstream error body for inclusion in an error
// message.
func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
