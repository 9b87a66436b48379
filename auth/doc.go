// Package auth decides whether a request's bearer credentials admit it to the
// gateway.
//
// The Gatekeeper parses the Authorization header and asks an Authenticator
// about the token on every request. Nothing is cached, and a failed call to
// the authority is never retried: it fails closed.
//
// # Authenticators
//
// NewIntrospection asks an RFC 7662 endpoint about each token, authenticating
// with client credentials over HTTP basic auth. DiscoverIntrospection finds
// the endpoint through OpenID discovery. NewJWT verifies JWT access tokens
// locally against the issuer's key set instead.
//
// Both accept a token only when it is active and its scopes intersect
// DefaultAllowedScopes ("mcp", "read", "admin").
//
// # Errors
//
// ErrUnauthorized signals an invalid or inactive token. ErrInsufficientScope
// signals a valid token without an accepted scope. ErrIntrospectionUnavailable
// signals the authority could not be consulted. The Gatekeeper maps all three
// to an invalid Result; the distinction survives only in logs and metrics.
//
// # Challenges
//
// BuildBearerChallenge renders the WWW-Authenticate value transports send with
// 401 responses, naming the protected resource metadata document clients use
// to find the authorization server.
package auth
