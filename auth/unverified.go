package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Unverified accepts any non-empty bearer token without consulting an
// authority. Each distinct token is its own user, so sessions stay bound to
// the token that opened them. It is meant for local development only.
func Unverified(scopes ...string) Authenticator {
	if len(scopes) == 0 {
		scopes = DefaultAllowedScopes
	}
	granted := append([]string(nil), scopes...)
	return AuthenticatorFunc(func(ctx context.Context, tok string) (UserInfo, error) {
		if tok == "" {
			return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
		}
		return &unverifiedUser{id: tokenSubject(tok), scopes: granted}, nil
	})
}

// tokenSubject derives a stable user id from a token for principals that
// carry no identity of their own.
func tokenSubject(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return "anon-" + hex.EncodeToString(sum[:8])
}

type unverifiedUser struct {
	id     string
	scopes []string
}

func (u *unverifiedUser) UserID() string       { return u.id }
func (u *unverifiedUser) Scopes() []string     { return append([]string(nil), u.scopes...) }
func (u *unverifiedUser) Claims(ref any) error { return nil }
