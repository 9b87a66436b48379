package auth

import (
	"context"
	"errors"
	"slices"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the token is valid but grants none of the
// scopes this gateway accepts.
var ErrInsufficientScope = errors.New("insufficient scope")

// ErrIntrospectionUnavailable indicates the credential authority could not be
// consulted. Callers treat it as unauthorized; it exists so it can be logged
// apart from ordinary rejections.
var ErrIntrospectionUnavailable = errors.New("introspection unavailable")

// DefaultAllowedScopes is the scope set a token must intersect to be accepted.
var DefaultAllowedScopes = []string{"mcp", "read", "admin"}

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user, if the authority
	// reported one.
	UserID() string
	// Scopes returns the scopes granted to the token.
	Scopes() []string
	// Claims unmarshalls the principal's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials,
// ErrInsufficientScope when no accepted scope was granted and
// ErrIntrospectionUnavailable when the authority cannot be reached.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, tok string) (UserInfo, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return f(ctx, tok)
}

// ScopesIntersect reports whether any of have appears in allowed.
func ScopesIntersect(have, allowed []string) bool {
	for _, s := range have {
		if slices.Contains(allowed, s) {
			return true
		}
	}
	return false
}
