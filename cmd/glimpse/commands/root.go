package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/glimpse/internal/app"
	"github.com/florianilch/glimpse/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "glimpse",
		Usage: "Authenticated session client for the glimpse API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (default: <user config dir>/glimpse/config.toml if present)",
				Sources: cli.EnvVars("GLIMPSE_CONFIG"),
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
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "api--base-url",
				Usage: "platform API base URL",
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "credential storage (file|env|keyring|redis|memory)",
				Value: string(app.DefaultConfigStorageType),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			requestCommand(),
			{
				Name:  "proxy",
				Usage: "local proxy that forwards requests with the session credentials",
				Commands: []*cli.Command{
					proxyStartCommand(),
				},
			},
		},
	}

	return cmd.Run(ctx, args)
}

// setup loads configuration, installs logging and builds the App.
// The returned cleanup must be called once the command finishes.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	configPath := cmd.String("config")
	if configPath == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return nil, nil, err
		}
		configPath = path
	}

	cfg, err := loadConfig(configPath, cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownLogging, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: string(cfg.LogExporter),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	application, err := app.New(ctx, cfg, app.WithNavigator(newTerminalNavigator(os.Stderr), interactive))
	if err != nil {
		_ = shutdownLogging(context.Background())
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	cleanup := func() {
		if err := application.Close(); err != nil {
			slog.ErrorContext(ctx, "failed to close credential storage", "error", err)
		}
		if err := shutdownLogging(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}

	return application, cleanup, nil
}

func proxyStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the local session proxy",
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
		Action: proxyStartAction,
	}
}

func proxyStartAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
