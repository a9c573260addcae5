package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the crawl workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(app App, logger *zap.Logger) error {
				if err := app.Serve(ctx); err != nil && ctx.Err() == nil {
					return err //nolint:wrapcheck
				}
				logger.Info("server stopped")
				return nil
			})
		},
	}
}

