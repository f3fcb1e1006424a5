// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/mangoo/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, CORS, proxy trust, rate limiting
//   - Storage: PostgreSQL connection (see storage.go)
//   - Auth: identity provider issuer, audience, JWKS cache TTL
//   - AI: chat model, embedder model, retrieval defaults
//
// Sensitive fields (database password) are masked in MarshalJSON and String.
// Validation is fail-fast: Load returns an error before anything else starts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPort indicates the HTTP listen port is out of range.
	ErrInvalidPort = errors.New("invalid listen port")

	// ErrMissingIssuer indicates the identity provider issuer URL is not set.
	ErrMissingIssuer = errors.New("missing auth issuer")

	// ErrMissingAudience indicates the expected token audience is not set.
	ErrMissingAudience = errors.New("missing auth audience")

	// ErrInvalidModelName indicates the chat model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRetrieval indicates retrieval defaults are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval settings")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// VectorDimension is the platform-wide embedding dimensionality.
	// Changing it requires a schema migration of knowledge_chunks.embedding.
	VectorDimension = 768

	// DefaultHistoryLimit is the number of prior turns loaded as context
	// for a chat completion.
	DefaultHistoryLimit = 20
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// HTTP server
	Host        string   `mapstructure:"host" json:"host"`
	Port        int      `mapstructure:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // Per-IP token bucket burst (0 = default)

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Identity provider
	AuthIssuer      string `mapstructure:"auth_issuer" json:"auth_issuer"`           // e.g. https://cognito-idp.us-east-1.amazonaws.com/<pool>
	AuthAudience    string `mapstructure:"auth_audience" json:"auth_audience"`       // expected client id
	AuthJWKSURL     string `mapstructure:"auth_jwks_url" json:"auth_jwks_url"`       // optional: derived from issuer when empty
	AuthGroupsClaim string `mapstructure:"auth_groups_claim" json:"auth_groups_claim"`
	AuthJWKSTTLMin  int    `mapstructure:"auth_jwks_ttl_min" json:"auth_jwks_ttl_min"`

	// AI models
	ModelName     string `mapstructure:"model_name" json:"model_name"` // default chat model (e.g. "gemini-2.5-flash")
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Retrieval defaults
	SearchTopK      int     `mapstructure:"search_top_k" json:"search_top_k"`
	SearchThreshold float64 `mapstructure:"search_threshold" json:"search_threshold"`
	HistoryLimit    int     `mapstructure:"history_limit" json:"history_limit"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/mangoo")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults + env carry the load
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", "/etc/mangoo"})
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
	// Server defaults
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8000)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "mangoo")
	viper.SetDefault("postgres_password", "mangoo_dev_password")
	viper.SetDefault("postgres_db_name", "mangoo")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Auth defaults
	viper.SetDefault("auth_groups_claim", "cognito:groups")
	viper.SetDefault("auth_jwks_ttl_min", 15)

	// AI defaults
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// Retrieval defaults
	viper.SetDefault("search_top_k", 5)
	viper.SetDefault("search_threshold", 0.7)
	viper.SetDefault("history_limit", DefaultHistoryLimit)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("host", "MANGOO_HOST")
	mustBind("port", "MANGOO_PORT")
	mustBind("cors_origins", "MANGOO_CORS_ORIGINS")
	mustBind("trust_proxy", "MANGOO_TRUST_PROXY")
	mustBind("rate_burst", "MANGOO_RATE_BURST")

	mustBind("auth_issuer", "MANGOO_AUTH_ISSUER")
	mustBind("auth_audience", "MANGOO_AUTH_AUDIENCE")
	mustBind("auth_jwks_url", "MANGOO_AUTH_JWKS_URL")
	mustBind("auth_groups_claim", "MANGOO_AUTH_GROUPS_CLAIM")

	mustBind("model_name", "MANGOO_MODEL_NAME")
	mustBind("embedder_model", "MANGOO_EMBEDDER_MODEL")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matching against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer ones keep the first
// and last 2 characters for debug utility.
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
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash". A name already containing "/" is
// returned as-is, so bots may pin fully-qualified models.
func FullModelName(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "googleai/" + name
}

// JWKSURL returns the JWKS endpoint, deriving the conventional
// /.well-known/jwks.json path from the issuer when not set explicitly.
func (c *Config) JWKSURL() string {
	if c.AuthJWKSURL != "" {
		return c.AuthJWKSURL
	}
	return strings.TrimSuffix(c.AuthIssuer, "/") + "/.well-known/jwks.json"
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
