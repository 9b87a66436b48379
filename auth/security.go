package auth

// SecurityConfig describes how this resource validates bearer tokens, in the
// terms a client needs to obtain one. Transports publish it as protected
// resource metadata.
type SecurityConfig struct {
	// Issuer of accepted tokens; advertised as the authorization server.
	Issuer string
	// JWKSURL is set when tokens are verified locally.
	JWKSURL string
	// ScopesSupported are the scopes that grant access.
	ScopesSupported []string
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.ScopesSupported = append([]string(nil), c.ScopesSupported...)
	return dup
}

// SecurityDescriptor exposes security configuration for transports to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// SecurityProvider combines validation + descriptor. Returned by constructors.
type SecurityProvider interface {
	Authenticator
	SecurityDescriptor
}
