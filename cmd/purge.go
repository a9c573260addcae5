package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/storage/postgres"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Deletes snapshots older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app App, logger *zap.Logger) error {
				n, err := app.Purge(cmd.Context())
				if err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				logger.Info("purge finished", zap.Int("deleted", n))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d snapshots\n", n)
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required")
			}
			if err := postgres.Migrate(cmd.Context(), cfg.DB.DSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrations applied")
			return nil
		},
	}
}
