// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.libris/config.yaml)
//  3. Default values
//
// Sensitive values are masked in MarshalJSON/String output. Validation
// uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxToolCalls indicates the tool call bound is out of range.
	ErrInvalidMaxToolCalls = errors.New("invalid max tool calls")

	// ErrInvalidToolTimeout indicates the per-tool timeout is out of range.
	ErrInvalidToolTimeout = errors.New("invalid tool timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidServerPort indicates the HTTP server port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidExportDir indicates the export directory is not usable.
	ErrInvalidExportDir = errors.New("invalid export directory")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultMaxToolCalls bounds executed tool invocations per turn.
	DefaultMaxToolCalls = 8

	// MaxAllowedToolCalls is the absolute per-turn ceiling.
	MaxAllowedToolCalls = 64

	// DefaultToolTimeout bounds a single tool invocation.
	DefaultToolTimeout = 30 * time.Second

	// DefaultMaxHistoryMessages is the default number of history messages
	// loaded per turn.
	DefaultMaxHistoryMessages int32 = 100

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 10000

	// MinHistoryMessages is the minimum allowed MaxHistoryMessages.
	MinHistoryMessages int32 = 10
)

// FetchConfig holds outbound web fetch configuration for the research
// tools (colly collector settings).
type FetchConfig struct {
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is delay between requests in milliseconds (default: 1000)
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// TracingConfig holds OTLP trace export configuration. Export is
// disabled when Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP trace collector (e.g. localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// ServiceName tags exported spans (default: libris)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment tags the deployment environment (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// Sensitive fields are masked in MarshalJSON; when adding new secrets,
// update MarshalJSON as well.
type Config struct {
	// Model provider configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	OllamaHost  string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Agent loop configuration
	MaxToolCalls       int   `mapstructure:"max_tool_calls" json:"max_tool_calls"`
	ToolTimeoutMs      int   `mapstructure:"tool_timeout_ms" json:"tool_timeout_ms"`
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration (serve mode)
	ServerHost     string   `mapstructure:"server_host" json:"server_host"`
	ServerPort     int      `mapstructure:"server_port" json:"server_port"`
	CORSOrigins    []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For behind a reverse proxy
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// File handling
	ExportDir      string `mapstructure:"export_dir" json:"export_dir"`
	UploadMaxBytes int64  `mapstructure:"upload_max_bytes" json:"upload_max_bytes"`

	// Research source access
	SearchMail            string `mapstructure:"search_mail" json:"search_mail"`                           // polite-pool identity for CrossRef/OpenAlex
	SemanticScholarAPIKey string `mapstructure:"semantic_scholar_api_key" json:"semantic_scholar_api_key"` // SENSITIVE: masked in MarshalJSON

	// Subsystem configuration
	Fetch   FetchConfig   `mapstructure:"fetch" json:"fetch"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".libris")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("max_tool_calls", DefaultMaxToolCalls)
	viper.SetDefault("tool_timeout_ms", int(DefaultToolTimeout/time.Millisecond))
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "libris")
	viper.SetDefault("postgres_password", "libris_dev_password")
	viper.SetDefault("postgres_db_name", "libris")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("server_host", "127.0.0.1")
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit_rps", 5.0)
	viper.SetDefault("rate_limit_burst", 20)

	viper.SetDefault("export_dir", "")
	viper.SetDefault("upload_max_bytes", int64(32<<20))

	viper.SetDefault("search_mail", "")
	viper.SetDefault("semantic_scholar_api_key", "")

	viper.SetDefault("fetch.parallelism", 2)
	viper.SetDefault("fetch.delay_ms", 1000)
	viper.SetDefault("fetch.timeout_ms", 30000)

	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.service_name", "libris")
	viper.SetDefault("tracing.environment", "dev")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly
// by the Genkit plugins, not via Viper; Validate checks their presence
// for the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "LIBRIS_PROVIDER")
	mustBind("model_name", "LIBRIS_MODEL_NAME")
	mustBind("ollama_host", "LIBRIS_OLLAMA_HOST")

	mustBind("max_tool_calls", "LIBRIS_MAX_TOOL_CALLS")
	mustBind("tool_timeout_ms", "LIBRIS_TOOL_TIMEOUT_MS")

	mustBind("server_host", "LIBRIS_SERVER_HOST")
	mustBind("server_port", "LIBRIS_SERVER_PORT")
	mustBind("cors_origins", "LIBRIS_CORS_ORIGINS")
	mustBind("trust_proxy", "LIBRIS_TRUST_PROXY")

	mustBind("export_dir", "LIBRIS_EXPORT_DIR")

	mustBind("search_mail", "LIBRIS_SEARCH_MAIL")
	mustBind("semantic_scholar_api_key", "LIBRIS_S2_API_KEY")

	mustBind("tracing.endpoint", "LIBRIS_OTLP_ENDPOINT")

	mustBind("log_level", "LIBRIS_LOG_LEVEL")
	mustBind("log_json", "LIBRIS_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against
// real secret content.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets up to 8
// characters are fully masked; longer ones keep the first and last two
// characters for debug utility. This defends against accidental logging
// of real secrets, not against compromised logs.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// Masked fields: PostgresPassword, SemanticScholarAPIKey.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.SemanticScholarAPIKey = maskSecret(a.SemanticScholarAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3",
// "openai/gpt-4o". A ModelName already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// ToolTimeout returns the per-invocation tool timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	if c.ToolTimeoutMs <= 0 {
		return DefaultToolTimeout
	}
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

// FetchTimeout returns the outbound fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	if c.Fetch.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
