// Package app assembles the application object graph: configuration,
// logging, tracing, the model provider, the database pool, stores, the
// research toolset, the agent router and the streaming mux. Every entry
// point (serve, cli, mcp) calls Setup and picks the pieces it needs.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris-ai/libris/internal/agent"
	"github.com/libris-ai/libris/internal/config"
	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/stream"
)

// App is the assembled application. Fields are set by Setup and
// read-only afterwards.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Chats    *conversation.Store
	Files    *ingest.Store
	Registry *registry.Registry
	Router   *agent.Router
	Mux      *stream.Mux

	otelShutdown func()
}

// Close releases everything Setup acquired. Safe on a partially
// initialized App, so Setup reuses it for cleanup-on-error.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Debug("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}

	// Tracer last, so spans emitted during shutdown still flush.
	if a.otelShutdown != nil {
		a.otelShutdown()
	}

	return nil
}
