package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/libris-ai/libris/db"
	"github.com/libris-ai/libris/internal/agent"
	"github.com/libris-ai/libris/internal/config"
	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/stream"
	"github.com/libris-ai/libris/internal/tools"
)

// Setup builds the application bottom-up: logger, tracing, model
// provider, database pool (with migrations), stores, toolset, router,
// mux. On error everything already acquired is released.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	logger := provideLogger(cfg)
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first, so genkit's tracer provider is wired before any
	// instrumented component initializes.
	a.otelShutdown = provideTracing(ctx, cfg, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Chats = conversation.New(pool, logger)
	a.Files = ingest.New(pool, cfg.UploadMaxBytes, logger)

	reg := registry.New(g)
	if err := tools.RegisterAll(reg, tools.Config{
		Logger:             logger,
		Documents:          a.Files,
		ExportDir:          cfg.ExportDir,
		Mail:               cfg.SearchMail,
		SemanticScholarKey: cfg.SemanticScholarAPIKey,
		Parallelism:        cfg.Fetch.Parallelism,
		Delay:              time.Duration(cfg.Fetch.DelayMs) * time.Millisecond,
		Timeout:            cfg.FetchTimeout(),
	}); err != nil {
		return nil, fmt.Errorf("registering research tools: %w", err)
	}
	a.Registry = reg
	logger.Info("research tools registered", "count", len(reg.Specs()))

	router, err := agent.New(agent.Config{
		Genkit:       g,
		Registry:     reg,
		Logger:       logger,
		ModelName:    cfg.FullModelName(),
		Temperature:  float64(cfg.Temperature),
		MaxToolCalls: cfg.MaxToolCalls,
		ToolTimeout:  cfg.ToolTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent router: %w", err)
	}
	a.Router = router

	mux, err := stream.New(stream.Config{
		Router:       router,
		Store:        a.Chats,
		Logger:       logger,
		Attachments:  a.Files,
		PostProcess:  tools.RewriteExportLinks(serverBaseURL(cfg)),
		HistoryLimit: cfg.MaxHistoryMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stream mux: %w", err)
	}
	a.Mux = mux

	return a, nil
}

// provideLogger builds the process logger from config. An unknown level
// falls back to info; there is no logger yet to complain to, so the
// bad value is reported after construction.
func provideLogger(cfg *config.Config) log.Logger {
	level, levelErr := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{
		Level: level,
		JSON:  cfg.LogJSON,
	})
	if levelErr != nil {
		logger.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
	}
	return logger
}

// provideTracing registers an OTLP/HTTP span exporter on genkit's
// tracer provider. Export is disabled when no endpoint is configured;
// the returned shutdown is always safe to call.
func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	tc := cfg.Tracing
	if tc.Endpoint == "" {
		logger.Debug("trace export disabled, no OTLP endpoint configured")
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(tc.Endpoint),
		otlptracehttp.WithInsecure(), // collector endpoints are local or in-cluster
	)
	if err != nil {
		logger.Warn("creating OTLP trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))

	logger.Info("trace export enabled",
		"endpoint", tc.Endpoint,
		"service", tc.ServiceName,
		"environment", tc.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		// Teardown runs after the parent context is canceled, so the
		// flush gets its own bounded context.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes genkit with the configured model provider.
// Gemini is the default; ollama and openai are selected explicitly.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no model auto-discovery.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		logger.Info("genkit initialized", "provider", provider,
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("genkit initialized", "provider", provider, "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("genkit initialized", "provider", provider, "model", cfg.ModelName)
	}

	return g, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// serverBaseURL is where download links in responses point. Exports are
// served by the HTTP transport regardless of which entry point produced
// them.
func serverBaseURL(cfg *config.Config) string {
	host := cfg.ServerHost
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.ServerPort))
}
