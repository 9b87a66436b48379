package auth

import "testing"

func TestBuildBearerChallenge(t *testing.T) {
	tests := []struct {
		name   string
		realm  string
		prm    string
		params map[string]string
		want   string
	}{
		{"bare", "", "", nil, "Bearer"},
		{"prm only", "", "https://gw/.well-known/oauth-protected-resource/mcp", nil,
			`Bearer resource_metadata="https://gw/.well-known/oauth-protected-resource/mcp"`},
		{"ordered params", "mcp", "https://gw/prm", map[string]string{"zeta": "z", "error_description": "bad", "error": "invalid_token", "alpha": "a"},
			`Bearer realm="mcp", resource_metadata="https://gw/prm", error="invalid_token", error_description="bad", alpha="a", zeta="z"`},
		{"escaping", "", "", map[string]string{"error_description": `say "hi" \ bye`},
			`Bearer error_description="say \"hi\" \\ bye"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildBearerChallenge(tt.realm, tt.prm, tt.params); got != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestScopesIntersect(t *testing.T) {
	if !ScopesIntersect([]string{"profile", "read"}, DefaultAllowedScopes) {
		t.Fatalf("read should intersect")
	}
	if ScopesIntersect([]string{"profile"}, DefaultAllowedScopes) {
		t.Fatalf("profile alone should not intersect")
	}
	if ScopesIntersect(nil, DefaultAllowedScopes) {
		t.Fatalf("no scopes should not intersect")
	}
}
