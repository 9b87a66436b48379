package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/reqctx"
)

const wwwAuthenticateHeader = "WWW-Authenticate"

type principalKey struct{}

// WithPrincipal records a validated credential on ctx.
func WithPrincipal(ctx context.Context, r auth.Result) context.Context {
	return context.WithValue(ctx, principalKey{}, r)
}

// PrincipalFrom returns the credential validated for this request, if any.
func PrincipalFrom(ctx context.Context) (auth.Result, bool) {
	r, ok := ctx.Value(principalKey{}).(auth.Result)
	return r, ok && r.Valid
}

// RequestContext builds the request context for a message bound to conn.
func RequestContext(p auth.Result, conn *Conn) reqctx.Context {
	return reqctx.Context{BearerToken: p.Token, SessionID: conn.SessionID(), Scopes: p.Scopes}
}

// Challenge describes the WWW-Authenticate header sent with a 401.
type Challenge struct {
	Realm string
	// ResourceMetadata is the protected resource metadata URL clients use to
	// discover the authorization server.
	ResourceMetadata string
}

func (c Challenge) header(res auth.Result) string {
	if res.Outcome() == "missing" {
		return auth.BuildBearerChallenge(c.Realm, c.ResourceMetadata, nil)
	}
	return auth.BuildBearerChallenge(c.Realm, c.ResourceMetadata, map[string]string{
		"error":             "invalid_token",
		"error_description": "the access token is missing, malformed, expired or not permitted",
	})
}

// RequireAuth rejects requests whose Authorization header the gatekeeper
// does not accept. Accepted requests carry the result for PrincipalFrom.
// observe, when set, sees every result.
func RequireAuth(gk *auth.Gatekeeper, ch Challenge, observe func(auth.Result), log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res := gk.Validate(ctx, r.Header.Get("Authorization"))
			if observe != nil {
				observe(res)
			}
			if !res.Valid {
				log.InfoContext(ctx, "auth.fail", slog.String("outcome", res.Outcome()))
				w.Header().Add(wwwAuthenticateHeader, ch.header(res))
				WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, res)))
		})
	}
}
