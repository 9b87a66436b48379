package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DiscoveryMetadata is the subset of the issuer's discovery document the
// gateway uses.
type DiscoveryMetadata struct {
	Issuer                string   `json:"issuer"`
	JWKSURL               string   `json:"jwks_uri"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
}

// Discover fetches the issuer's OpenID discovery document.
func Discover(ctx context.Context, issuer string) (*DiscoveryMetadata, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta DiscoveryMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	return &meta, nil
}

// DiscoverIntrospection resolves the issuer's introspection endpoint and
// builds an authenticator against it. Fields already set on cfg win over
// discovered values.
func DiscoverIntrospection(ctx context.Context, issuer string, cfg IntrospectionConfig) (*IntrospectionAuthenticator, error) {
	meta, err := Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		if meta.IntrospectionEndpoint == "" {
			return nil, errors.New("discovery incomplete: missing introspection_endpoint")
		}
		cfg.Endpoint = meta.IntrospectionEndpoint
	}
	if cfg.Issuer == "" {
		cfg.Issuer = meta.Issuer
	}
	return NewIntrospection(cfg)
}
