package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/config"
	"github.com/garyjia/prior-auth/internal/container"
	"github.com/garyjia/prior-auth/pkg/utils"
)

const version = "1.0.0"

func main() {
	cmd := &cli.Command{
		Name:    "prior-auth",
		Usage:   "Medical prior authorization workflow service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "configs/config.yaml",
				Sources: cli.EnvVars("PRIOR_AUTH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional .env file with credentials",
				Value:   ".env",
				Sources: cli.EnvVars("PRIOR_AUTH_ENV_FILE"),
			},
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newMigrateCommand(),
			newValidateRulesCommand(),
		},
		DefaultCommand: "serve",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "prior-auth: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(command *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(command.String("config"), command.String("env-file"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the orchestrator and the reconciliation worker",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting prior authorization service",
				zap.String("version", version),
				zap.Int("port", cfg.Server.Port))

			c, err := container.NewContainer(cfg, logger)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				logger.Error("Failed to start container", zap.Error(err))
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Failed to close container", zap.Error(err))
				}
			}()

			// Blocks until a signal cancels ctx
			if err := c.Server().Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}

			logger.Info("Server exited successfully")
			return nil
		},
	}
}
