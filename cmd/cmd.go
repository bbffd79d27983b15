// Package cmd wires the command line entry points for libris.
//
// Commands:
//   - cli: interactive research chat in the terminal
//   - serve: HTTP API server with NDJSON streaming
//   - mcp: Model Context Protocol server over stdio
//
// Every command installs signal handling and shuts down through
// context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/libris-ai/libris/internal/log"
)

// Execute is the main entry point for the libris command line.
func Execute() error {
	// Bootstrap logger for everything that runs before app.Setup
	// builds the configured one (config loading, migrations).
	level := slog.LevelInfo
	if lv, err := log.ParseLevel(os.Getenv("LIBRIS_LOG_LEVEL")); err == nil {
		level = lv
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "cli":
		return runCLI()
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Libris - research assistant for your terminal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  libris cli           Start the interactive research chat")
	fmt.Println("  libris serve [addr]  Start the HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  libris mcp           Publish the research tools over MCP stdio")
	fmt.Println("  libris --version     Show version information")
	fmt.Println("  libris --help        Show this help")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /help                Show available commands")
	fmt.Println("  /clear               Clear the visible transcript")
	fmt.Println("  /exit, /quit         Exit libris")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  GEMINI_API_KEY       API key for the default gemini provider")
	fmt.Println("  OPENAI_API_KEY       API key when provider is openai")
	fmt.Println("  DATABASE_URL         PostgreSQL URL, overrides the postgres_* settings")
	fmt.Println("  LIBRIS_LOG_LEVEL     debug, info, warn or error (default: info)")
	fmt.Println()
	fmt.Println("Configuration file: ~/.libris/config.yaml")
}
