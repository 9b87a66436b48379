package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of the JWT access token
// authenticator.
type AccessTokenAuthOption func(*jwtauth.Config)

// WithAllowedScopes replaces the accepted scope set (default DefaultAllowedScopes).
func WithAllowedScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.AllowedScopes = append([]string(nil), scopes...) }
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.AllowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// NewJWT returns an Authenticator that verifies JWT access tokens locally
// instead of calling an introspection endpoint. When jwksURL is empty the key
// set location is found through OpenID discovery on issuer.
func NewJWT(ctx context.Context, issuer string, audience string, jwksURL string, opts ...AccessTokenAuthOption) (SecurityProvider, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	cfg.AllowedScopes = append([]string(nil), DefaultAllowedScopes...)
	for _, opt := range opts {
		opt(cfg)
	}

	var (
		a   *jwtauth.Authenticator
		err error
	)
	if jwksURL != "" {
		a, err = jwtauth.New(ctx, cfg, jwksURL)
	} else {
		a, err = jwtauth.NewFromDiscovery(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &adapter{a: a, sec: SecurityConfig{Issuer: a.Issuer(), JWKSURL: a.JWKSURI(), ScopesSupported: a.AllowedScopes()}}, nil
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a   *jwtauth.Authenticator
	sec SecurityConfig
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to public errors used by the handler.
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return ui, nil
}

func (ad *adapter) SecurityConfig() SecurityConfig { return ad.sec.Copy() }
