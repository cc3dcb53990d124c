package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"quiz-server/internal/config"
	pgmigrations "quiz-server/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func runMigrations(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	applied, err := pgmigrations.Apply(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info("database schema up to date")
		return nil
	}
	logger.Info("migrations applied", "migrations", applied)
	return nil
}
