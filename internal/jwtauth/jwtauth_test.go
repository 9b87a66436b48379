package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string
	omitJWKS bool
}

func newMockOIDC(t *testing.T, keysJSON []byte, omitJWKS bool) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys", omitJWKS: omitJWKS}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                   m.issuer,
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		}
		if !m.omitJWKS {
			meta["jwks_uri"] = m.issuer + m.jwksPath
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	mux.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

const testAudience = "https://gateway.example.com/mcp"

func newTestAuthenticator(t *testing.T) (*Authenticator, *mockOIDC, *rsa.PrivateKey, string) {
	t.Helper()
	pk, kid, jwks := genRSA(t)
	m := newMockOIDC(t, jwks, false)
	cfg := DefaultConfig()
	cfg.Issuer = m.issuer
	cfg.ExpectedAudiences = []string{testAudience}
	cfg.AllowedScopes = []string{"mcp", "read", "admin"}
	cfg.Leeway = 0
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}
	return a, m, pk, kid
}

func baseClaims(issuer string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "read profile",
	}
}

func TestAuthenticator_HappyPath(t *testing.T) {
	a, m, pk, kid := newTestAuthenticator(t)

	ui, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, baseClaims(m.issuer)))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}
	if got := ui.Scopes(); len(got) != 2 || got[0] != "read" {
		t.Fatalf("want scopes [read profile], got %v", got)
	}
	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "read profile" {
		t.Fatalf("scope claim mismatch: %q", out.Scope)
	}
	if a.JWKSURI() != m.issuer+"/keys" {
		t.Fatalf("want discovered jwks uri, got %q", a.JWKSURI())
	}
}

func TestAuthenticator_ScpArray(t *testing.T) {
	a, m, pk, kid := newTestAuthenticator(t)
	claims := baseClaims(m.issuer)
	delete(claims, "scope")
	claims["scp"] = []string{"mcp"}

	ui, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, claims))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := ui.Scopes(); len(got) != 1 || got[0] != "mcp" {
		t.Fatalf("want [mcp], got %v", got)
	}
}

func TestAuthenticator_Rejections(t *testing.T) {
	a, m, pk, kid := newTestAuthenticator(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		want   error
	}{
		{"wrong scope", func(c jwt.MapClaims) { c["scope"] = "profile email" }, ErrInsufficientScope},
		{"no scope", func(c jwt.MapClaims) { delete(c, "scope") }, ErrInsufficientScope},
		{"audience mismatch", func(c jwt.MapClaims) { c["aud"] = "https://unknown" }, ErrUnauthorized},
		{"issuer mismatch", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, ErrUnauthorized},
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }, ErrUnauthorized},
		{"missing exp", func(c jwt.MapClaims) { delete(c, "exp") }, ErrUnauthorized},
		{"missing sub", func(c jwt.MapClaims) { delete(c, "sub") }, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims(m.issuer)
			tt.mutate(claims)
			_, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, claims))
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthenticator_AudienceArray(t *testing.T) {
	a, m, pk, kid := newTestAuthenticator(t)
	claims := baseClaims(m.issuer)
	claims["aud"] = []string{"https://other", testAudience}

	if _, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, claims)); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestAuthenticator_ForeignKey(t *testing.T) {
	a, m, _, kid := newTestAuthenticator(t)
	other, _, _ := genRSA(t)

	_, err := a.CheckAuthentication(context.Background(), signToken(t, other, kid, baseClaims(m.issuer)))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for foreign signature, got %v", err)
	}
}

func TestNewFromDiscovery_MissingJWKS(t *testing.T) {
	_, _, jwks := genRSA(t)
	m := newMockOIDC(t, jwks, true)
	cfg := DefaultConfig()
	cfg.Issuer = m.issuer
	cfg.ExpectedAudiences = []string{testAudience}

	if _, err := NewFromDiscovery(context.Background(), cfg); err == nil {
		t.Fatalf("expected error due to missing jwks_uri")
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, nil, "http://x/keys"); err == nil {
		t.Fatalf("want error for nil config")
	}
	if _, err := New(ctx, &Config{ExpectedAudiences: []string{"a"}}, "http://x/keys"); err == nil {
		t.Fatalf("want error for missing issuer")
	}
	if _, err := New(ctx, &Config{Issuer: "i"}, "http://x/keys"); err == nil {
		t.Fatalf("want error for missing audience")
	}
	if _, err := New(ctx, &Config{Issuer: "i", ExpectedAudiences: []string{"a"}}, ""); err == nil {
		t.Fatalf("want error for missing jwks uri")
	}
}
