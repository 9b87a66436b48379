package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/auth/authtest"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		tok    string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"Bearer a b", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		tok, ok := auth.ParseBearer(tt.header)
		if tok != tt.tok || ok != tt.ok {
			t.Errorf("ParseBearer(%q) = %q, %v; want %q, %v", tt.header, tok, ok, tt.tok, tt.ok)
		}
	}
}

func TestGatekeeper_Validate(t *testing.T) {
	static := authtest.NewStatic(map[string][]string{
		"good":  {"mcp", "profile"},
		"read":  {"read"},
		"other": {"profile"},
	})
	gk := auth.NewGatekeeper(static, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name    string
		header  string
		valid   bool
		outcome string
	}{
		{"valid", "Bearer good", true, "ok"},
		{"read only", "Bearer read", true, "ok"},
		{"missing", "", false, "missing"},
		{"wrong scheme", "Basic Zm9vOmJhcg==", false, "malformed"},
		{"empty token", "Bearer   ", false, "malformed"},
		{"unknown", "Bearer nope", false, "invalid"},
		{"wrong scope", "Bearer other", false, "insufficient_scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gk.Validate(context.Background(), tt.header)
			if res.Valid != tt.valid {
				t.Fatalf("want valid=%v, got %+v", tt.valid, res)
			}
			if got := res.Outcome(); got != tt.outcome {
				t.Fatalf("want outcome %q, got %q", tt.outcome, got)
			}
			if tt.valid && res.Token == "" {
				t.Fatalf("valid result must carry the token")
			}
			if !tt.valid && res.Token != "" {
				t.Fatalf("invalid result leaked token %q", res.Token)
			}
		})
	}
}

func TestGatekeeper_SkipsAuthorityForMalformedHeaders(t *testing.T) {
	static := authtest.NewStatic(nil)
	gk := auth.NewGatekeeper(static, nil)
	for _, h := range []string{"", "Token x", "Bearer"} {
		_ = gk.Validate(context.Background(), h)
	}
	if static.Calls() != 0 {
		t.Fatalf("want no authenticator calls, got %d", static.Calls())
	}
}

func TestGatekeeper_UnavailableIsInvalid(t *testing.T) {
	down := auth.AuthenticatorFunc(func(ctx context.Context, tok string) (auth.UserInfo, error) {
		return nil, errors.Join(auth.ErrIntrospectionUnavailable, errors.New("dial tcp: connection refused"))
	})
	gk := auth.NewGatekeeper(down, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res := gk.Validate(context.Background(), "Bearer tok")
	if res.Valid {
		t.Fatalf("unavailable authority must fail closed")
	}
	if res.Outcome() != "unavailable" {
		t.Fatalf("want outcome unavailable, got %q", res.Outcome())
	}
}

func TestGatekeeper_ValidCarriesScopes(t *testing.T) {
	authority := authtest.NewAuthority(t, "gw", "pw")
	authority.Grant("tok", "read profile")
	ia, err := auth.NewIntrospection(auth.IntrospectionConfig{Endpoint: authority.Endpoint(), ClientID: "gw", ClientSecret: auth.StaticSecret("pw")})
	if err != nil {
		t.Fatalf("NewIntrospection: %v", err)
	}
	res := auth.NewGatekeeper(ia, nil).Validate(context.Background(), "Bearer tok")
	if !res.Valid || res.Token != "tok" {
		t.Fatalf("want valid tok, got %+v", res)
	}
	if len(res.Scopes) != 2 || res.Scopes[0] != "read" {
		t.Fatalf("want scopes [read profile], got %v", res.Scopes)
	}
}
