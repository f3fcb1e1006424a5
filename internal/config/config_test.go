package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             8000,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "mangoo",
		PostgresPassword: "secret",
		PostgresDBName:   "mangoo",
		PostgresSSLMode:  "disable",
		AuthIssuer:       "https://issuer.example.com/pool",
		AuthAudience:     "client-id",
		AuthGroupsClaim:  "cognito:groups",
		AuthJWKSTTLMin:   15,
		ModelName:        "gemini-2.5-flash",
		EmbedderModel:    DefaultEmbedderModel,
		SearchTopK:       5,
		SearchThreshold:  0.7,
		HistoryLimit:     20,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"bad port", func(c *Config) { c.Port = 0 }, ErrInvalidPort},
		{"bad postgres port", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty postgres host", func(c *Config) { c.PostgresHost = " " }, ErrInvalidPostgresHost},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"top_k too small", func(c *Config) { c.SearchTopK = 0 }, ErrInvalidRetrieval},
		{"threshold too big", func(c *Config) { c.SearchThreshold = 1.5 }, ErrInvalidRetrieval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe() = %v, want nil", err)
	}

	cfg.AuthIssuer = ""
	if err := cfg.ValidateServe(); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("ValidateServe() = %v, want %v", err, ErrMissingIssuer)
	}

	cfg = validConfig()
	cfg.AuthAudience = ""
	if err := cfg.ValidateServe(); !errors.Is(err, ErrMissingAudience) {
		t.Fatalf("ValidateServe() = %v, want %v", err, ErrMissingAudience)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", maskedValue},
		{"12345678", maskedValue},
		{"my_long_secret_key_123", "my<" + maskedValue + ">23"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarshalJSONMasksPassword(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "super_secret_password"

	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}
	if strings.Contains(string(data), "super_secret_password") {
		t.Error("MarshalJSON leaked postgres password")
	}

	// String goes through the same masking
	if strings.Contains(cfg.String(), "super_secret_password") {
		t.Error("String leaked postgres password")
	}
}

func TestFullModelName(t *testing.T) {
	if got := FullModelName("gemini-2.5-flash"); got != "googleai/gemini-2.5-flash" {
		t.Errorf("FullModelName = %q", got)
	}
	if got := FullModelName("googleai/gemini-2.5-pro"); got != "googleai/gemini-2.5-pro" {
		t.Errorf("FullModelName should pass through qualified names, got %q", got)
	}
}

func TestJWKSURL(t *testing.T) {
	cfg := validConfig()
	want := "https://issuer.example.com/pool/.well-known/jwks.json"
	if got := cfg.JWKSURL(); got != want {
		t.Errorf("JWKSURL() = %q, want %q", got, want)
	}

	cfg.AuthJWKSURL = "https://keys.example.com/jwks"
	if got := cfg.JWKSURL(); got != "https://keys.example.com/jwks" {
		t.Errorf("explicit JWKS URL not honored, got %q", got)
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p'ss word"

	dsn := cfg.PostgresConnectionString()
	if !strings.Contains(dsn, `password='p\'ss word'`) {
		t.Errorf("password not quoted in DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "host=localhost") || !strings.Contains(dsn, "dbname=mangoo") {
		t.Errorf("DSN missing expected fields: %s", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p@ss/word"

	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Errorf("URL scheme wrong: %s", u)
	}
	if strings.Contains(u, "p@ss/word") {
		t.Errorf("special characters not encoded in URL: %s", u)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://admin:pw@db.internal:6432/prod?sslmode=require")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL() error: %v", err)
	}

	if cfg.PostgresHost != "db.internal" {
		t.Errorf("host = %q", cfg.PostgresHost)
	}
	if cfg.PostgresPort != 6432 {
		t.Errorf("port = %d", cfg.PostgresPort)
	}
	if cfg.PostgresUser != "admin" || cfg.PostgresPassword != "pw" {
		t.Errorf("credentials = %q/%q", cfg.PostgresUser, cfg.PostgresPassword)
	}
	if cfg.PostgresDBName != "prod" {
		t.Errorf("db name = %q", cfg.PostgresDBName)
	}
	if cfg.PostgresSSLMode != "require" {
		t.Errorf("ssl mode = %q", cfg.PostgresSSLMode)
	}
}

func TestParseDatabaseURLRejectsBadScheme(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://root@localhost/db")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err == nil {
		t.Fatal("expected error for non-postgres scheme")
	}
}
