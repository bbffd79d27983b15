package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values shared by all commands.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case "", ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		// Local provider, no key
	default:
		return fmt.Errorf("%w: %q is not one of gemini, ollama, openai", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxToolCalls < 1 || c.MaxToolCalls > MaxAllowedToolCalls {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidMaxToolCalls, MaxAllowedToolCalls, c.MaxToolCalls)
	}

	if c.ToolTimeoutMs < 100 {
		return fmt.Errorf("%w: tool_timeout_ms must be at least 100, got %d",
			ErrInvalidToolTimeout, c.ToolTimeoutMs)
	}

	return nil
}

// ValidateStorage validates the PostgreSQL settings. Required by the
// serve and cli commands; the mcp command runs without a database.
func (c *Config) ValidateStorage() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}

	// Warn on the default dev password but don't block local development
	if c.PostgresPassword == "libris_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are MITM-vulnerable
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty", ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe validates everything the serve command needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidServerPort, c.ServerPort)
	}

	if c.ExportDir != "" {
		info, err := os.Stat(c.ExportDir)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidExportDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %q is not a directory", ErrInvalidExportDir, c.ExportDir)
		}
	}

	return nil
}

// ValidateCLI validates everything the cli command needs. The terminal
// client talks to the pipeline in-process and persists turns, so it
// needs storage too.
func (c *Config) ValidateCLI() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.ValidateStorage()
}

// ValidateMCP validates everything the mcp command needs. The stdio
// server exposes network tools only, no storage.
func (c *Config) ValidateMCP() error {
	return c.Validate()
}

// NormalizeMaxHistoryMessages clamps the history window to safe bounds.
func NormalizeMaxHistoryMessages(limit int32) int32 {
	if limit <= 0 {
		return DefaultMaxHistoryMessages
	}
	if limit < MinHistoryMessages {
		return MinHistoryMessages
	}
	if limit > MaxAllowedHistoryMessages {
		return MaxAllowedHistoryMessages
	}
	return limit
}
