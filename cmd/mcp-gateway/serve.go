package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ggoodman/mcp-gateway-go/gateway"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP transports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Sources: cli.EnvVars("MCP_LISTEN_ADDR"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.String("addr"); v != "" {
				cfg.ListenAddr = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			stack, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stack.close()

			authenticator, closeAuth, err := buildAuthenticator(ctx, cfg.Auth, log)
			if err != nil {
				return err
			}
			defer closeAuth()

			rt, err := gateway.New(cfg.PublicURL, stack.binder, authenticator,
				gateway.WithLogger(log),
				gateway.WithServerName(cfg.ServerName),
				gateway.WithRealm(cfg.Auth.Realm),
			)
			if err != nil {
				return err
			}
			return serve(ctx, cfg.ListenAddr, rt, log)
		},
	}
}

// serve runs the HTTP server until ctx ends, then drains it and removes every
// session this process registered.
func serve(ctx context.Context, addr string, rt *gateway.Router, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "http.listen", slog.String("addr", addr), slog.String("resource_metadata", rt.ResourceMetadataURL().String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		log.InfoContext(sctx, "http.shutdown")
		// Open streams never finish on their own; drop sessions first so
		// their handlers return.
		cerr := rt.Close(sctx)
		serr := srv.Shutdown(sctx)
		if errors.Is(serr, context.DeadlineExceeded) {
			serr = srv.Close()
		}
		return errors.Join(cerr, serr)
	})
	return g.Wait()
}
