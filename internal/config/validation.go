package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for correctness.
// Returns the first error found; callers should treat any error as fatal.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidEmbedderModel)
	}

	if c.SearchTopK < 1 || c.SearchTopK > 100 {
		return fmt.Errorf("%w: top_k must be in [1,100], got %d", ErrInvalidRetrieval, c.SearchTopK)
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %g", ErrInvalidRetrieval, c.SearchThreshold)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("%w: history_limit must be positive, got %d", ErrInvalidRetrieval, c.HistoryLimit)
	}

	return nil
}

// ValidateServe checks settings that only the HTTP server requires.
// Auth issuer and audience must be set; without them every request
// would be rejected at the gate.
func (c *Config) ValidateServe() error {
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return ErrMissingIssuer
	}
	if strings.TrimSpace(c.AuthAudience) == "" {
		return ErrMissingAudience
	}
	if c.AuthJWKSTTLMin < 1 {
		return fmt.Errorf("auth_jwks_ttl_min must be positive, got %d", c.AuthJWKSTTLMin)
	}
	return nil
}
