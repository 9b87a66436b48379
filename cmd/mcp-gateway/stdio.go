package main

import (
	"context"
	"os"

	"github.com/ggoodman/mcp-gateway-go/stdio"
	"github.com/urfave/cli/v3"
)

func stdioCommand() *cli.Command {
	return &cli.Command{
		Name:  "stdio",
		Usage: "Serve a single client over stdin and stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token forwarded upstream",
				Sources: cli.EnvVars("STDIO_FALLBACK_TOKEN"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.String("token"); v != "" {
				cfg.StdioToken = v
			}
			if err := cfg.Registry.Validate(); err != nil {
				return err
			}
			// stdout carries protocol frames.
			log, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			stack, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stack.close()

			h := stdio.NewHandler(stack.binder,
				stdio.WithIO(os.Stdin, os.Stdout),
				stdio.WithLogger(log),
				stdio.WithFallbackToken(cfg.StdioToken),
			)
			return h.Serve(ctx)
		},
	}
}
