// Package cmd implements the archiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/config"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/logging"
	"github.com/JakeFAU/web-archiver/internal/server"
)

var cfgFile string

type ctxKey string

const (
	configKey ctxKey = "config"
	loggerKey ctxKey = "logger"
)

// App is the part of server.App the commands use. Tests swap newApp for a fake.
type App interface {
	Serve(ctx context.Context) error
	CrawlOnce(ctx context.Context, job crawler.CrawlJob, downloadAssets bool) (crawler.JobStatusReport, error)
	Purge(ctx context.Context) (int, error)
	Close(ctx context.Context)
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Crawls websites and stores encrypted snapshots.",
		Long: `archiver crawls a site breadth-first, stores every page and asset
encrypted under a master secret, and serves an HTTP API for submitting jobs
and reading snapshots back.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newDecryptCmd(),
		newPurgeCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolve(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, nil, errors.New("configuration not loaded")
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok || logger == nil {
		logger = zap.NewNop()
	}
	return cfg, logger, nil
}

// withApp builds the application, runs fn and always closes it.
func withApp(ctx context.Context, fn func(App, *zap.Logger) error) error {
	cfg, logger, err := resolve(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		app.Close(closeCtx)
	}()
	return fn(app, logger)
}
