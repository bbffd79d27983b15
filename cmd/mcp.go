package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/libris-ai/libris/internal/config"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/mcp"
	"github.com/libris-ai/libris/internal/registry"
	"github.com/libris-ai/libris/internal/tools"
)

// runMCP publishes the research tools over MCP stdio. The server runs
// without a database: it registers the network tools only, so
// read_document and export_markdown are not available to MCP clients.
// Logs go to stderr, stdout carries the JSON-RPC frames.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateMCP(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tool definitions need a genkit instance but no model provider;
	// MCP clients bring their own model.
	g := genkit.Init(ctx)
	if g == nil {
		return errors.New("initializing genkit")
	}

	reg := registry.New(g)
	if err := tools.RegisterAll(reg, tools.Config{
		Logger:             logger,
		Mail:               cfg.SearchMail,
		SemanticScholarKey: cfg.SemanticScholarAPIKey,
		Parallelism:        cfg.Fetch.Parallelism,
		Delay:              time.Duration(cfg.Fetch.DelayMs) * time.Millisecond,
		Timeout:            cfg.FetchTimeout(),
	}); err != nil {
		return fmt.Errorf("registering research tools: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Name:     "libris",
		Version:  Version,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	logger.Info("MCP server ready",
		"version", Version,
		"transport", "stdio",
		"tools", reg.Len(),
	)

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server: %w", err)
	}

	logger.Info("MCP server shut down")
	return nil
}
