package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Result is the outcome of validating one Authorization header.
type Result struct {
	Valid  bool
	Token  string
	UserID string
	Scopes []string
	// Err explains a rejection. It is for logs and metrics only and is never
	// shown to clients.
	Err error
}

// Outcome returns a short label for r suitable for metrics.
func (r Result) Outcome() string {
	switch {
	case r.Valid:
		return "ok"
	case errors.Is(r.Err, ErrIntrospectionUnavailable):
		return "unavailable"
	case errors.Is(r.Err, ErrInsufficientScope):
		return "insufficient_scope"
	case errors.Is(r.Err, errMissingCredentials):
		return "missing"
	case errors.Is(r.Err, errMalformedCredentials):
		return "malformed"
	default:
		return "invalid"
	}
}

var (
	errMissingCredentials   = errors.New("no authorization header")
	errMalformedCredentials = errors.New("malformed bearer authorization header")
)

// ParseBearer extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return "", false
	}
	return tok, true
}

// Gatekeeper decides whether a request's credentials admit it. It consults
// the Authenticator on every call and keeps no state between calls.
type Gatekeeper struct {
	auth Authenticator
	log  *slog.Logger
}

// NewGatekeeper wraps a. A nil logger means slog.Default.
func NewGatekeeper(a Authenticator, log *slog.Logger) *Gatekeeper {
	if log == nil {
		log = slog.Default()
	}
	return &Gatekeeper{auth: a, log: log}
}

// Validate checks an Authorization header value. Missing or malformed headers
// are rejected without contacting the authority. Every failure, including an
// unreachable authority, yields Valid=false.
func (g *Gatekeeper) Validate(ctx context.Context, header string) Result {
	if strings.TrimSpace(header) == "" {
		g.log.InfoContext(ctx, "auth.check.missing")
		return Result{Err: errMissingCredentials}
	}
	tok, ok := ParseBearer(header)
	if !ok {
		g.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", errMalformedCredentials.Error()))
		return Result{Err: errMalformedCredentials}
	}

	ui, err := g.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, ErrIntrospectionUnavailable):
			g.log.ErrorContext(ctx, "auth.introspect.unavailable", slog.String("err", err.Error()))
		case errors.Is(err, ErrInsufficientScope):
			g.log.InfoContext(ctx, "auth.introspect.scope", slog.String("err", err.Error()))
		case errors.Is(err, ErrUnauthorized):
			g.log.InfoContext(ctx, "auth.introspect.inactive", slog.String("err", err.Error()))
		default:
			g.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		}
		return Result{Err: err}
	}
	return Result{Valid: true, Token: tok, UserID: ui.UserID(), Scopes: ui.Scopes()}
}
