// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.synapser/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - LLM: Upstream router endpoint and generation limits (model ids arrive
//     per request in the chat payload)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Search: Web search tool tuning (result and paragraph caps, timeout)
//   - Observability: OTLP trace export (see observability.go)
//
// Security: Sensitive data (passwords, secrets) are never logged; the config
// directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidLLMBaseURL indicates the upstream LLM endpoint is invalid.
	ErrInvalidLLMBaseURL = errors.New("invalid LLM base URL")

	// ErrInvalidSnapshotSize indicates the memory snapshot size is out of range.
	ErrInvalidSnapshotSize = errors.New("invalid snapshot size")

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

	// ErrMissingHMACSecret indicates the HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")

	// ErrInvalidSearchConfig indicates the web search tuning is out of range.
	ErrInvalidSearchConfig = errors.New("invalid search configuration")
)

const (
	// DefaultSnapshotMessages is the number of recent messages injected into
	// the model context on each turn.
	DefaultSnapshotMessages = 20

	// MaxSnapshotMessages is the absolute maximum to keep prompts bounded.
	MaxSnapshotMessages = 200

	// DefaultTitleMaxTokens caps the title generation call.
	DefaultTitleMaxTokens = 12
)

// SearchConfig tunes the web search tool.
type SearchConfig struct {
	BaseURL       string `mapstructure:"base_url" json:"base_url"`
	MaxResults    int    `mapstructure:"max_results" json:"max_results"`
	MaxParagraphs int    `mapstructure:"max_paragraphs" json:"max_paragraphs"`
	TimeoutMS     int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	UserAgent     string `mapstructure:"user_agent" json:"user_agent"`
}

// Timeout returns the per-search deadline as a duration.
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, secrets, tokens), update MarshalJSON.
type Config struct {
	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)

	// LLM upstream configuration. The base URL points at any
	// OpenAI-compatible router; caller tokens are supplied per request
	// and never stored here.
	LLMBaseURL        string `mapstructure:"llm_base_url" json:"llm_base_url"`
	MaxTokens         int    `mapstructure:"max_tokens" json:"max_tokens"`
	TitleMaxTokens    int    `mapstructure:"title_max_tokens" json:"title_max_tokens"`
	GenerationTimeout int    `mapstructure:"generation_timeout_s" json:"generation_timeout_s"`

	// Conversation memory configuration
	SnapshotMessages int `mapstructure:"snapshot_messages" json:"snapshot_messages"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Web search tool configuration
	Search SearchConfig `mapstructure:"search" json:"search"`

	// Observability configuration (see observability.go)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Security configuration
	HMACSecret string `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.synapser/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".synapser")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
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

	// DATABASE_URL, when set, wins over the individual postgres_* keys
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		if err := cfg.applyDatabaseURL(raw); err != nil {
			return nil, err
		}
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// HTTP defaults
	viper.SetDefault("listen_addr", ":8000")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)

	// LLM defaults (Hugging Face OpenAI-compatible router)
	viper.SetDefault("llm_base_url", "https://router.huggingface.co/v1")
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("title_max_tokens", DefaultTitleMaxTokens)
	viper.SetDefault("generation_timeout_s", 120)

	// Conversation memory defaults
	viper.SetDefault("snapshot_messages", DefaultSnapshotMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "synapser")
	viper.SetDefault("postgres_password", "synapser_dev_password")
	viper.SetDefault("postgres_db_name", "synapser")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Search defaults
	viper.SetDefault("search.base_url", "https://html.duckduckgo.com/html/")
	viper.SetDefault("search.max_results", 3)
	viper.SetDefault("search.max_paragraphs", 7)
	viper.SetDefault("search.timeout_ms", 10000)
	viper.SetDefault("search.user_agent", "Mozilla/5.0 (compatible; SynapseR/1.0)")

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "synapser")
	viper.SetDefault("tracing.enabled", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment, never from config.yaml defaults:
//  1. HMAC_SECRET - signs the anonymous identity cookie
//  2. DATABASE_URL - full PostgreSQL URL (overlaid in applyDatabaseURL)
//
// Caller Hugging Face tokens arrive per request in the chat payload and are
// deliberately absent from configuration.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("hmac_secret", "HMAC_SECRET")

	mustBind("listen_addr", "SYNAPSER_LISTEN_ADDR")
	mustBind("cors_origins", "SYNAPSER_CORS_ORIGINS")
	mustBind("trust_proxy", "SYNAPSER_TRUST_PROXY")

	mustBind("llm_base_url", "SYNAPSER_LLM_BASE_URL")

	mustBind("tracing.enabled", "SYNAPSER_TRACING_ENABLED")
	mustBind("tracing.endpoint", "SYNAPSER_TRACING_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - HMACSecret
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
