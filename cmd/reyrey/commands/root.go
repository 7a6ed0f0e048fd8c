// Package commands implements the reyrey CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/drivelane/reyrey-auth/internal/app"
	"github.com/drivelane/reyrey-auth/internal/auth"
	"github.com/drivelane/reyrey-auth/internal/observability"
	"github.com/drivelane/reyrey-auth/internal/resolver"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "reyrey",
		Usage: "Reynolds & Reynolds CRM token manager",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			setCommand(),
			checkCommand(),
			loginCommand(),
			headersCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// setup loads config and installs the logging pipeline for a command.
func setup(cmd *cli.Command) (*app.Config, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, nil
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "print the current token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "token name",
				Value: app.DefaultConfigTokenName,
			},
			&cli.StringSliceFlag{
				Name:  "provider",
				Usage: "provider chain, in order (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "login",
				Usage: "log in via browser when no provider holds a valid token",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			token, err := manager.Token(ctx, auth.TokenOptions{
				TokenName:      cmd.String("name"),
				Providers:      cmd.StringSlice("provider"),
				LoginIfMissing: cmd.Bool("login"),
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.Writer, token.Value)
			return nil
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "store a token value",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "token name",
				Value: app.DefaultConfigTokenName,
			},
			&cli.StringFlag{
				Name:  "domain",
				Usage: "domain the token is valid for",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			value := cmd.Args().First()
			if value == "" {
				return fmt.Errorf("token value argument required")
			}

			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			token := tokenstore.Token{
				Value:  value,
				Name:   cmd.String("name"),
				Domain: cmd.String("domain"),
			}
			if err := manager.SaveToken(ctx, token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "Token %s saved\n", token.Name)
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "report whether the stored token is still accepted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "token name",
				Value: app.DefaultConfigTokenName,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			registry, err := cfg.NewRegistry()
			if err != nil {
				return err
			}

			// Resolve without validation so even a stale token is reported
			// on, then judge it explicitly.
			tokenName := cmd.String("name")
			token, err := resolver.New(registry, nil).Resolve(ctx, tokenName, nil)
			if err != nil {
				return fmt.Errorf("no token found for %s", tokenName)
			}

			if cfg.NewValidator().Valid(ctx, token) {
				fmt.Fprintf(cmd.Writer, "Token %s is valid\n", tokenName)
				return nil
			}
			return fmt.Errorf("token %s is invalid", tokenName)
		},
	}
}

func headersCommand() *cli.Command {
	return &cli.Command{
		Name:  "headers",
		Usage: "print authentication headers for CRM API requests",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			headers, err := manager.AuthHeaders(ctx)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(headers)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local token service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}

			slog.InfoContext(ctx, "starting")

			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("app failed to start: %w", err)
			}

			slog.InfoContext(ctx, "stopped gracefully")
			return nil
		},
	}
}
