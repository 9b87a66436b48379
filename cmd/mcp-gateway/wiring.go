package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/internal/config"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-gateway-go/sessions/redishost"
	"github.com/ggoodman/mcp-gateway-go/tools"
	"github.com/ggoodman/mcp-gateway-go/upstream"
	"github.com/lmittmann/tint"
)

func newLogger(c config.Log, w io.Writer) (*slog.Logger, error) {
	lvl, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	var h slog.Handler
	switch c.Format {
	case "", "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		h = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: "[15:04:05.000]"})
	default:
		return nil, fmt.Errorf("unknown LOG_FORMAT %q", c.Format)
	}
	return logctx.Wrap(slog.New(h)), nil
}

// stack is the transport-independent core shared by both commands.
type stack struct {
	registry sessions.Registry
	binder   *transport.Binder
	closers  []func() error
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stack, error) {
	s := &stack{}
	reg, closeReg, err := buildRegistry(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	s.registry = reg
	s.closers = append(s.closers, closeReg)

	up, err := upstream.New(cfg.Upstream, reg, upstream.WithLogger(log))
	if err != nil {
		s.close()
		return nil, err
	}

	srv := tools.NewServer(cfg.ServerName, version, log)
	tools.Register(srv, tools.Deps{Registry: reg, Upstream: up, Logger: log})
	s.binder = transport.NewBinder(reg, srv, log)
	return s, nil
}

func buildRegistry(ctx context.Context, c config.Registry) (sessions.Registry, func() error, error) {
	switch c.Backend {
	case config.BackendMemory, "":
		return memoryhost.New(), func() error { return nil }, nil
	case config.BackendRedis:
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		h, err := redishost.New(pctx, c.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis registry: %w", err)
		}
		return h, h.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Backend)
	}
}

// buildAuthenticator returns the credential checker for c.Mode. The returned
// func releases anything it started, such as a secret file watcher.
func buildAuthenticator(ctx context.Context, c config.Auth, log *slog.Logger) (auth.Authenticator, func(), error) {
	noop := func() {}
	switch c.Mode {
	case config.AuthNone:
		log.WarnContext(ctx, "auth.mode.none", slog.String("msg", "bearer tokens are not verified"))
		return auth.Unverified(c.AllowedScopes...), noop, nil

	case config.AuthJWT:
		var opts []auth.AccessTokenAuthOption
		if len(c.AllowedScopes) > 0 {
			opts = append(opts, auth.WithAllowedScopes(c.AllowedScopes...))
		}
		a, err := auth.NewJWT(ctx, c.Issuer, c.Audience, c.JWKSURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("jwt authenticator: %w", err)
		}
		return a, noop, nil

	case config.AuthIntrospection:
		ic := auth.IntrospectionConfig{
			Endpoint:      c.IntrospectionURL,
			ClientID:      c.ClientID,
			ClientSecret:  auth.StaticSecret(c.ClientSecret),
			AllowedScopes: c.AllowedScopes,
			Issuer:        c.Issuer,
		}
		release := noop
		if c.ClientSecretFile != "" {
			sf, err := auth.NewSecretFile(ctx, c.ClientSecretFile, log)
			if err != nil {
				return nil, nil, err
			}
			ic.ClientSecret = sf
			release = func() { _ = sf.Close() }
		}

		var (
			a   *auth.IntrospectionAuthenticator
			err error
		)
		if ic.Endpoint == "" {
			a, err = auth.DiscoverIntrospection(ctx, c.Issuer, ic)
		} else {
			a, err = auth.NewIntrospection(ic)
		}
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("introspection authenticator: %w", err)
		}
		return a, release, nil
	}
	return nil, nil, errors.New("unknown AUTH_MODE " + c.Mode)
}
