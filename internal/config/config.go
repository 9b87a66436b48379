// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ggoodman/mcp-gateway-go/sessions/redishost"
	"github.com/ggoodman/mcp-gateway-go/upstream"
	"github.com/joeshaw/envdecode"
)

// Auth modes.
const (
	AuthIntrospection = "introspection"
	AuthJWT           = "jwt"
	AuthNone          = "none"
)

// Registry backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	// PublicURL is the externally visible URL of the streamable HTTP endpoint.
	PublicURL  string `env:"MCP_PUBLIC_URL,default=http://localhost:8080/mcp"`
	ListenAddr string `env:"MCP_LISTEN_ADDR,default=:8080"`
	ServerName string `env:"MCP_SERVER_NAME,default=mcp-gateway"`

	// StdioToken is the bearer token forwarded upstream by stdio sessions.
	StdioToken string `env:"STDIO_FALLBACK_TOKEN"`

	Auth     Auth
	Registry Registry
	Upstream upstream.Config
	Log      Log
}

type Auth struct {
	Mode             string   `env:"AUTH_MODE,default=introspection"`
	Issuer           string   `env:"AUTH_ISSUER"`
	IntrospectionURL string   `env:"AUTH_INTROSPECTION_URL"`
	ClientID         string   `env:"AUTH_CLIENT_ID"`
	ClientSecret     string   `env:"AUTH_CLIENT_SECRET"`
	ClientSecretFile string   `env:"AUTH_CLIENT_SECRET_FILE"`
	JWKSURL          string   `env:"AUTH_JWKS_URL"`
	Audience         string   `env:"AUTH_AUDIENCE"`
	AllowedScopes    []string `env:"AUTH_ALLOWED_SCOPES,default=mcp;read;admin"`
	Realm            string   `env:"AUTH_REALM"`
}

type Registry struct {
	Backend string `env:"REGISTRY_BACKEND,default=memory"`
	Redis   redishost.Config
}

type Log struct {
	// Format is json, text or pretty.
	Format string `env:"LOG_FORMAT,default=json"`
	Level  string `env:"LOG_LEVEL,default=info"`
}

// Load decodes the environment into a Config. It does not validate.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem with c for serving over HTTP.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("MCP_PUBLIC_URL must be an absolute http(s) URL, got %q", c.PublicURL))
	}
	if err := c.Auth.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Registry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a Auth) validate() error {
	switch a.Mode {
	case AuthNone:
		return nil
	case AuthIntrospection:
		var errs []error
		if a.IntrospectionURL == "" && a.Issuer == "" {
			errs = append(errs, errors.New("AUTH_INTROSPECTION_URL or AUTH_ISSUER is required for introspection"))
		}
		if a.ClientID == "" {
			errs = append(errs, errors.New("AUTH_CLIENT_ID is required for introspection"))
		}
		if a.ClientSecret != "" && a.ClientSecretFile != "" {
			errs = append(errs, errors.New("AUTH_CLIENT_SECRET and AUTH_CLIENT_SECRET_FILE are mutually exclusive"))
		}
		return errors.Join(errs...)
	case AuthJWT:
		var errs []error
		if a.Issuer == "" {
			errs = append(errs, errors.New("AUTH_ISSUER is required for jwt"))
		}
		if a.Audience == "" {
			errs = append(errs, errors.New("AUTH_AUDIENCE is required for jwt"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", a.Mode)
	}
}

// Validate checks the backend name.
func (r Registry) Validate() error {
	switch r.Backend {
	case BackendMemory, BackendRedis:
		return nil
	default:
		return fmt.Errorf("unknown REGISTRY_BACKEND %q", r.Backend)
	}
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", l.Level)
	}
	return lvl, nil
}
