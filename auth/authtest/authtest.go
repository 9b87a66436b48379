// Package authtest provides credential fixtures for tests: an in-process
// Authenticator and a fake RFC 7662 introspection authority.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/auth"
)

// Static is an Authenticator backed by a fixed token table. Tokens map to
// their granted scopes; unknown tokens are unauthorized.
type Static struct {
	mu     sync.RWMutex
	tokens map[string][]string
	calls  atomic.Int64
}

// NewStatic returns an authenticator accepting the given tokens.
func NewStatic(tokens map[string][]string) *Static {
	s := &Static{tokens: make(map[string][]string, len(tokens))}
	for k, v := range tokens {
		s.tokens[k] = append([]string(nil), v...)
	}
	return s
}

// Revoke removes a token.
func (s *Static) Revoke(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tok)
}

// Calls reports how many times CheckAuthentication ran.
func (s *Static) Calls() int64 { return s.calls.Load() }

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.calls.Add(1)
	s.mu.RLock()
	scopes, ok := s.tokens[tok]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	if !auth.ScopesIntersect(scopes, auth.DefaultAllowedScopes) {
		return nil, auth.ErrInsufficientScope
	}
	return &User{ID: "user-" + tok, Granted: scopes}, nil
}

// User is a minimal auth.UserInfo.
type User struct {
	ID      string
	Granted []string
}

func (u *User) UserID() string       { return u.ID }
func (u *User) Scopes() []string     { return append([]string(nil), u.Granted...) }
func (u *User) Claims(ref any) error { return nil }

// Authority is a fake introspection endpoint.
type Authority struct {
	*httptest.Server
	ClientID     string
	ClientSecret string

	mu        sync.Mutex
	responses map[string]auth.IntrospectionResponse
	requests  atomic.Int64
}

// NewAuthority starts an introspection server requiring the given client
// credentials. It is closed when the test ends.
func NewAuthority(t *testing.T, clientID, clientSecret string) *Authority {
	t.Helper()
	a := &Authority{ClientID: clientID, ClientSecret: clientSecret, responses: map[string]auth.IntrospectionResponse{}}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.Server.Close)
	return a
}

// Grant makes tok active with the given space-delimited scope string.
func (a *Authority) Grant(tok, scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[tok] = auth.IntrospectionResponse{Active: true, Scope: scope, Sub: "sub-" + tok, ClientID: "client-" + tok, TokenType: "Bearer"}
}

// GrantMinimal makes tok active with scope and nothing else: no sub,
// username or client_id in the response.
func (a *Authority) GrantMinimal(tok, scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[tok] = auth.IntrospectionResponse{Active: true, Scope: scope}
}

// Revoke makes tok inactive.
func (a *Authority) Revoke(tok string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.responses, tok)
}

// Requests reports how many introspection calls were received.
func (a *Authority) Requests() int64 { return a.requests.Load() }

// Endpoint is the introspection URL.
func (a *Authority) Endpoint() string { return a.Server.URL + "/introspect" }

func (a *Authority) serve(w http.ResponseWriter, r *http.Request) {
	a.requests.Add(1)
	if r.Method != http.MethodPost || r.URL.Path != "/introspect" {
		http.NotFound(w, r)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != a.ClientID || secret != a.ClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	res, found := a.responses[r.PostForm.Get("token")]
	a.mu.Unlock()
	if !found {
		res = auth.IntrospectionResponse{Active: false}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}
