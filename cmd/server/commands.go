package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/config"
	"github.com/garyjia/prior-auth/internal/domain/rule"
	"github.com/garyjia/prior-auth/migrations"
	"github.com/garyjia/prior-auth/pkg/database"
	"github.com/garyjia/prior-auth/pkg/utils"
)

// ErrNoRules is returned by validate-rules for an empty rule file
var ErrNoRules = errors.New("rule file defines no rules")

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "List applied migration versions without applying anything",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.New(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator := database.NewMigrator(db, logger)
			if !command.Bool("status") {
				if err := migrator.RunMigrationsFS(ctx, migrations.FS); err != nil {
					return err
				}
			}

			applied, err := migrator.AppliedVersions(ctx)
			if err != nil {
				return err
			}
			versions := make([]int, 0, len(applied))
			for v := range applied {
				versions = append(versions, v)
			}
			sort.Ints(versions)
			fmt.Fprintf(command.Root().Writer, "applied migrations: %v\n", versions)
			return nil
		},
	}
}

func newValidateRulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-rules",
		Aliases:   []string{"vr"},
		Usage:     "Load and compile a rule file without starting the service",
		ArgsUsage: "[rules.yaml]",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				cfg, err := config.Load(command.String("config"), command.String("env-file"))
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				path = cfg.Rules.Path
			}

			logger, err := utils.NewCLILogger("warn")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return validateRules(command.Root().Writer, path, logger)
		},
	}
}

// validateRules compiles every rule in the file and prints a summary per type
func validateRules(w io.Writer, path string, logger *zap.Logger) error {
	loaded, err := config.LoadRules(path)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		return fmt.Errorf("%s: %w", path, ErrNoRules)
	}

	if _, err := rules.NewEngine(loaded, logger); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	byType := make(map[rule.Type]int)
	active := 0
	for _, r := range loaded {
		byType[r.Type]++
		if r.Active {
			active++
		}
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Fprintf(w, "%s: %d rules (%d active)\n", path, len(loaded), active)
	for _, t := range types {
		fmt.Fprintf(w, "  %-24s %d\n", t, byType[rule.Type(t)])
	}
	return nil
}
