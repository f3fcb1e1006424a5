// Package auth validates bearer tokens issued by the identity provider.
//
// Tokens are RS256 JWTs verified against the provider's JWKS endpoint.
// Public keys are cached with a TTL (see Config.KeyTTL); a stale cache or an
// unknown key id triggers a refetch. Verification failures collapse to two
// sentinel errors at the HTTP boundary: ErrTokenExpired and ErrInvalidToken,
// both answered with 401 so callers cannot probe why a token was rejected.
package auth

import (
	"errors"
	"slices"
)

var (
	// ErrInvalidToken indicates a missing, malformed, or cryptographically
	// invalid token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrForbidden indicates a valid identity lacking a required role.
	ErrForbidden = errors.New("forbidden")
)

// AdminGroup is the identity-provider group granting administrative access.
const AdminGroup = "admin"

// Identity is the validated caller extracted from a bearer token.
type Identity struct {
	Subject  string   // sub claim, stable user identifier
	Email    string   // email claim, may be empty
	Username string   // preferred username, may be empty
	Groups   []string // role groups from the configured groups claim
}

// HasGroup reports whether the identity belongs to the named group.
func (id Identity) HasGroup(group string) bool {
	return slices.Contains(id.Groups, group)
}

// RequireGroup returns ErrForbidden when the identity lacks the named group.
func (id Identity) RequireGroup(group string) error {
	if !id.HasGroup(group) {
		return ErrForbidden
	}
	return nil
}
