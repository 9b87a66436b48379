// Package wellknown serves the RFC 9728 protected resource metadata document
// that unauthenticated clients are pointed at by the 401 challenge.
package wellknown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/mcp-gateway-go/auth"
)

// PathPrefix is the well-known location of protected resource metadata.
const PathPrefix = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource                              string   `json:"resource"`
	AuthorizationServers                  []string `json:"authorization_servers,omitempty"`
	JwksURI                               string   `json:"jwks_uri,omitempty"`
	ScopesSupported                       []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported                []string `json:"bearer_methods_supported,omitempty"`
	ResourceName                          string   `json:"resource_name,omitempty"`
	ResourceDocumentation                 string   `json:"resource_documentation,omitempty"`
	TlsClientCertificateBoundAccessTokens bool     `json:"tls_client_certificate_bound_access_tokens,omitempty"`
}

// NewProtectedResourceMetadata describes resource as protected by the
// authorization server in sc.
func NewProtectedResourceMetadata(resource *url.URL, sc auth.SecurityConfig, name string) ProtectedResourceMetadata {
	doc := ProtectedResourceMetadata{
		Resource:               resource.String(),
		JwksURI:                sc.JWKSURL,
		ScopesSupported:        append([]string(nil), sc.ScopesSupported...),
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           name,
	}
	if sc.Issuer != "" {
		doc.AuthorizationServers = []string{sc.Issuer}
	}
	return doc
}

// MetadataURL returns where the metadata for resource is published: the
// well-known prefix followed by the resource path, on the resource's origin.
func MetadataURL(resource *url.URL) *url.URL {
	path := strings.TrimSuffix(resource.Path, "/")
	return &url.URL{Scheme: resource.Scheme, Host: resource.Host, Path: PathPrefix + path}
}

// Handler serves doc with permissive CORS so browser clients can discover it.
func Handler(doc ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		}
	})
}
