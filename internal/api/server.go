// Package api is the HTTP transport: chat CRUD, turn streaming as
// NDJSON, file uploads and export downloads, behind a recovery →
// logging → CORS → rate-limit middleware chain. Handlers only ever
// talk to the stores and the stream mux; nothing model-related is
// reachable from here directly.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/stream"
)

// Default per-IP rate limit: tokens per second and bucket size.
const (
	defaultRateRPS   = 5.0
	defaultRateBurst = 60
)

// Config contains everything the API server needs.
type Config struct {
	Logger log.Logger
	Chats  *conversation.Store // required
	Mux    *stream.Mux         // required

	// Files backs uploads; nil leaves POST /api/files unregistered.
	Files *ingest.Store

	// Pool is pinged by /ready when set.
	Pool *pgxpool.Pool

	// ExportDir is where export_markdown writes; empty leaves the
	// downloads route unregistered.
	ExportDir string

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string

	// TrustProxy enables X-Real-IP/X-Forwarded-For for rate limiting.
	TrustProxy bool

	// RateRPS and RateBurst shape the per-IP limiter; zero values get
	// defaults.
	RateRPS   float64
	RateBurst int

	// UploadMaxBytes caps one upload body; zero falls back to the
	// ingest default.
	UploadMaxBytes int64
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes and middleware.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Chats == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Mux == nil {
		return nil, errors.New("stream mux is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{chats: cfg.Chats, logger: logger}
	th := &turnHandler{mux: cfg.Mux, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chats", ch.create)
	mux.HandleFunc("GET /api/chats", ch.list)
	mux.HandleFunc("GET /api/chats/{id}", ch.get)
	mux.HandleFunc("DELETE /api/chats/{id}", ch.delete)
	mux.HandleFunc("GET /api/chats/{id}/messages", ch.messages)
	mux.HandleFunc("POST /api/chats/{id}/stream", th.stream)

	if cfg.Files != nil {
		fh := &fileHandler{files: cfg.Files, maxBytes: cfg.UploadMaxBytes, logger: logger}
		mux.HandleFunc("POST /api/files", fh.upload)
	}

	if cfg.ExportDir != "" {
		dh := &downloadHandler{dir: cfg.ExportDir, logger: logger}
		mux.HandleFunc("GET /api/downloads/{name}", dh.download)
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = defaultRateRPS
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS sits before RateLimit so preflight OPTIONS always gets its
	// headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes stay outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.Handle("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
