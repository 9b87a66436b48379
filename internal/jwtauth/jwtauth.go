package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for JWT access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences are accepted "aud" values; the token must carry at
	// least one of them.
	ExpectedAudiences []string
	// AllowedScopes: the token must carry at least one. Empty disables the check.
	AllowedScopes []string
	AllowedAlgs   []string
	Leeway        time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf).
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but carries none of the
// allowed scopes.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// UserInfo is the internal claims carrier for validated tokens.
type UserInfo interface {
	UserID() string
	Scopes() []string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	scopes []string
	claims map[string]any
}

func (u *userInfo) UserID() string   { return u.sub }
func (u *userInfo) Scopes() []string { return append([]string(nil), u.scopes...) }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates JWT access tokens against a JWKS that is refreshed
// in the background.
type Authenticator struct {
	cfg     Config
	jwksURI string
	keyfunc jwt.Keyfunc
}

// New constructs an authenticator for a statically known JWKS URI.
func New(ctx context.Context, cfg *Config, jwksURI string) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	c := *cfg
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Authenticator{cfg: c, jwksURI: jwksURI, keyfunc: func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); !slices.Contains(c.AllowedAlgs, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf.Keyfunc(t)
	}}, nil
}

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and the
// canonical issuer, then behaves like New.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	c := *cfg
	if meta.Issuer != "" {
		c.Issuer = meta.Issuer
	}
	return New(ctx, &c, meta.JwksURI)
}

// Issuer returns the issuer tokens must carry.
func (a *Authenticator) Issuer() string { return a.cfg.Issuer }

// JWKSURI returns the key set location.
func (a *Authenticator) JWKSURI() string { return a.jwksURI }

// AllowedScopes returns the configured scope set.
func (a *Authenticator) AllowedScopes() []string {
	return append([]string(nil), a.cfg.AllowedScopes...)
}

func (a *Authenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	scopes := scopesFromClaims(claims)
	if len(a.cfg.AllowedScopes) > 0 && !intersects(scopes, a.cfg.AllowedScopes) {
		return nil, ErrInsufficientScope
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &userInfo{sub: sub, scopes: scopes, claims: claims}, nil
}

// scopesFromClaims reads the space-delimited "scope" claim, falling back to
// an "scp" array.
func scopesFromClaims(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	var out []string
	if arr, ok := claims["scp"].([]any); ok {
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func intersects(have, allowed []string) bool {
	for _, s := range have {
		if slices.Contains(allowed, s) {
			return true
		}
	}
	return false
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
