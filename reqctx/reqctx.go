// Package reqctx carries the per-request caller identity through a call chain.
//
// A Context is attached to a context.Context once, at the top of request
// handling, and read back anywhere below it with From. Values are immutable:
// callees receive copies, so nothing they do can leak into a sibling chain.
package reqctx

import (
	"context"
	"slices"
)

// Context is the caller identity visible to every operation started while
// handling one request.
type Context struct {
	// BearerToken is the session's token, or the static fallback token for
	// transports without per-request credentials.
	BearerToken string
	// SessionID is empty when the transport has no addressable session.
	SessionID string
	// Scopes granted to BearerToken by the credential authority.
	Scopes []string
}

// IsZero reports whether c carries neither a token nor a session.
func (c Context) IsZero() bool {
	return c.BearerToken == "" && c.SessionID == "" && len(c.Scopes) == 0
}

// HasSession reports whether c is bound to an addressable session.
func (c Context) HasSession() bool { return c.SessionID != "" }

// HasScope reports whether scope was granted to the bearer token.
func (c Context) HasScope(scope string) bool { return slices.Contains(c.Scopes, scope) }

type contextKey struct{}

// With returns a child of ctx carrying c.
func With(ctx context.Context, c Context) context.Context {
	c.Scopes = slices.Clone(c.Scopes)
	return context.WithValue(ctx, contextKey{}, c)
}

// From returns the Context attached to ctx, or the zero Context if none was.
func From(ctx context.Context) Context {
	c, ok := ctx.Value(contextKey{}).(Context)
	if !ok {
		return Context{}
	}
	c.Scopes = slices.Clone(c.Scopes)
	return c
}

// Run calls fn with a child of ctx carrying c. Everything fn starts from the
// context it is given observes c; nothing outside fn does.
func Run(ctx context.Context, c Context, fn func(ctx context.Context) error) error {
	return fn(With(ctx, c))
}
