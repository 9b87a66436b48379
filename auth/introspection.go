package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SecretSource yields the current client secret used to authenticate to the
// introspection endpoint. Implementations may rotate the value at runtime.
type SecretSource interface {
	Secret() string
}

// StaticSecret is a SecretSource that never changes.
type StaticSecret string

func (s StaticSecret) Secret() string { return string(s) }

// IntrospectionConfig configures an RFC 7662 token introspection authenticator.
type IntrospectionConfig struct {
	// Endpoint is the authority's introspection URL.
	Endpoint string
	// ClientID and ClientSecret authenticate this gateway via HTTP basic auth.
	ClientID     string
	ClientSecret SecretSource
	// AllowedScopes defaults to DefaultAllowedScopes.
	AllowedScopes []string
	// Issuer is advertised in protected resource metadata; optional.
	Issuer string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// IntrospectionResponse is the subset of the RFC 7662 response the gateway reads.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       any    `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// Scopes splits the space-delimited scope string.
func (r IntrospectionResponse) Scopes() []string { return strings.Fields(r.Scope) }

var _ SecurityProvider = (*IntrospectionAuthenticator)(nil)

// IntrospectionAuthenticator asks the credential authority about every token
// it sees. Results are never cached and failed calls are never retried.
type IntrospectionAuthenticator struct {
	endpoint string
	clientID string
	secret   SecretSource
	allowed  []string
	issuer   string
	client   *http.Client
}

// NewIntrospection validates cfg and returns an authenticator.
func NewIntrospection(cfg IntrospectionConfig) (*IntrospectionAuthenticator, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid introspection endpoint %q", cfg.Endpoint)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("introspection: client id required")
	}
	secret := cfg.ClientSecret
	if secret == nil {
		secret = StaticSecret("")
	}
	allowed := cfg.AllowedScopes
	if len(allowed) == 0 {
		allowed = DefaultAllowedScopes
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &IntrospectionAuthenticator{
		endpoint: u.String(),
		clientID: cfg.ClientID,
		secret:   secret,
		allowed:  append([]string(nil), allowed...),
		issuer:   cfg.Issuer,
		client:   hc,
	}, nil
}

// Introspect performs one introspection round trip. Transport failures,
// non-200 statuses and undecodable bodies wrap ErrIntrospectionUnavailable.
func (a *IntrospectionAuthenticator) Introspect(ctx context.Context, tok string) (*IntrospectionResponse, error) {
	form := url.Values{}
	form.Set("token", tok)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrIntrospectionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(a.clientID), url.QueryEscape(a.secret.Secret()))

	res, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospectionUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("%w: authority responded %d", ErrIntrospectionUnavailable, res.StatusCode)
	}
	var out IntrospectionResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrIntrospectionUnavailable, err)
	}
	return &out, nil
}

// CheckAuthentication implements Authenticator.
func (a *IntrospectionAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	res, err := a.Introspect(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !res.Active {
		return nil, fmt.Errorf("%w: token inactive", ErrUnauthorized)
	}
	scopes := res.Scopes()
	if !ScopesIntersect(scopes, a.allowed) {
		return nil, fmt.Errorf("%w: token grants none of %s", ErrInsufficientScope, strings.Join(a.allowed, ", "))
	}
	return &introspectedUser{res: *res, scopes: scopes, fallbackID: tokenSubject(tok)}, nil
}

func (a *IntrospectionAuthenticator) SecurityConfig() SecurityConfig {
	return SecurityConfig{Issuer: a.issuer, ScopesSupported: append([]string(nil), a.allowed...)}
}

type introspectedUser struct {
	res    IntrospectionResponse
	scopes []string
	// fallbackID names the owner when the authority reports no subject.
	fallbackID string
}

// UserID prefers sub, then username, then client_id. An authority that
// answers with only active and scope gets one user per token.
func (u *introspectedUser) UserID() string {
	for _, id := range []string{u.res.Sub, u.res.Username, u.res.ClientID} {
		if id != "" {
			return id
		}
	}
	return u.fallbackID
}

func (u *introspectedUser) Scopes() []string { return append([]string(nil), u.scopes...) }

func (u *introspectedUser) Claims(ref any) error {
	b, err := json.Marshal(u.res)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
