package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. HTTP configuration
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}

	// 2. LLM configuration
	if c.MaxTokens < 1 || c.MaxTokens > 131072 {
		return fmt.Errorf("%w: must be between 1 and 131,072, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.TitleMaxTokens < 1 || c.TitleMaxTokens > 64 {
		return fmt.Errorf("%w: title_max_tokens must be between 1 and 64, got %d", ErrInvalidMaxTokens, c.TitleMaxTokens)
	}

	if u, err := url.Parse(c.LLMBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidLLMBaseURL, c.LLMBaseURL)
	}

	// 3. Conversation memory
	if c.SnapshotMessages < 1 || c.SnapshotMessages > MaxSnapshotMessages {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidSnapshotSize, MaxSnapshotMessages, c.SnapshotMessages)
	}

	// 4. PostgreSQL configuration
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
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "synapser_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 5. HMAC secret (identity cookie signing)
	if c.HMACSecret == "" {
		return fmt.Errorf("%w: set the HMAC_SECRET environment variable", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 characters (got %d)",
			ErrInvalidHMACSecret, len(c.HMACSecret))
	}

	// 6. Search tool configuration
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 10 {
		return fmt.Errorf("%w: max_results must be between 1 and 10, got %d",
			ErrInvalidSearchConfig, c.Search.MaxResults)
	}
	if c.Search.MaxParagraphs < 1 || c.Search.MaxParagraphs > 50 {
		return fmt.Errorf("%w: max_paragraphs must be between 1 and 50, got %d",
			ErrInvalidSearchConfig, c.Search.MaxParagraphs)
	}
	if c.Search.TimeoutMS < 100 {
		return fmt.Errorf("%w: timeout_ms must be at least 100, got %d",
			ErrInvalidSearchConfig, c.Search.TimeoutMS)
	}

	return nil
}

// NormalizeSnapshotMessages clamps a requested snapshot size into the
// supported range, falling back to the default for non-positive values.
func NormalizeSnapshotMessages(n int) int {
	if n <= 0 {
		return DefaultSnapshotMessages
	}
	if n > MaxSnapshotMessages {
		return MaxSnapshotMessages
	}
	return n
}
