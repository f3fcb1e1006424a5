package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// Config configures a Verifier.
type Config struct {
	Issuer      string        // Required: expected iss claim
	Audience    string        // Required: expected aud claim
	JWKSURL     string        // Required: JWKS endpoint of the issuer
	GroupsClaim string        // Claim carrying role groups (default "cognito:groups")
	KeyTTL      time.Duration // JWKS cache TTL (default 15m)
	HTTPClient  *http.Client  // Optional: client for JWKS fetches
	Logger      log.Logger    // Optional: nil uses a nop logger
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if c.JWKSURL == "" {
		return errors.New("JWKS URL is required")
	}
	return nil
}

// Verifier validates bearer tokens and extracts the caller identity.
// Safe for concurrent use.
type Verifier struct {
	keys        *keyCache
	issuer      string
	audience    string
	groupsClaim string
	logger      log.Logger
}

// NewVerifier creates a Verifier from the given configuration.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	groupsClaim := cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "cognito:groups"
	}

	return &Verifier{
		keys:        newKeyCache(cfg.JWKSURL, ttl, cfg.HTTPClient, logger),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		groupsClaim: groupsClaim,
		logger:      logger,
	}, nil
}

// Verify validates a raw bearer token and returns the caller identity.
//
// Returns ErrTokenExpired for structurally valid but expired tokens and
// ErrInvalidToken for everything else. The two stay distinct internally
// (expiry is routine, signature failure is an anomaly worth alerting on)
// but both map to 401 at the HTTP boundary.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			v.logger.Debug("token expired")
			return Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		if errors.Is(err, ErrInvalidToken) {
			// keyFunc already classified it (unknown kid)
			v.logger.Warn("token rejected", "error", err)
			return Identity{}, err
		}
		v.logger.Warn("token rejected", "error", err)
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return v.identityFromClaims(claims), nil
}

// keyFunc resolves the signing key for a token via the JWKS cache.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token has no key id", ErrInvalidToken)
		}
		return v.keys.Key(ctx, kid)
	}
}

// identityFromClaims extracts the Identity from validated claims.
func (v *Verifier) identityFromClaims(claims jwt.MapClaims) Identity {
	id := Identity{}

	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	// Cognito access tokens carry "username", id tokens "cognito:username"
	if username, ok := claims["username"].(string); ok {
		id.Username = username
	} else if username, ok := claims["cognito:username"].(string); ok {
		id.Username = username
	}

	if raw, ok := claims[v.groupsClaim].([]any); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				id.Groups = append(id.Groups, s)
			}
		}
	}

	return id
}
