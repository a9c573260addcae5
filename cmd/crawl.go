package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

type crawlFlags struct {
	depth          int
	pages          int
	delay          time.Duration
	timeout        time.Duration
	domains        []string
	followExternal bool
	downloadAssets bool
}

// newCrawlCmd archives one site in-process and prints the final status.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Archives a single site and exits",
		Long: `Crawls the site at <url> breadth-first with the configured fetcher and
storage backends, without starting the HTTP API. Flags left unset fall back to
the crawler section of the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			job := crawler.CrawlJob{
				StartURL:       args[0],
				MaxDepth:       cfg.Crawler.MaxDepth,
				MaxPages:       cfg.Crawler.MaxPages,
				Delay:          cfg.CrawlDelay(),
				Timeout:        cfg.CrawlTimeout(),
				DomainScope:    flags.domains,
				FollowExternal: cfg.Crawler.FollowExternal,
			}
			if cmd.Flags().Changed("depth") {
				job.MaxDepth = flags.depth
			}
			if cmd.Flags().Changed("pages") {
				job.MaxPages = flags.pages
			}
			if cmd.Flags().Changed("delay") {
				job.Delay = flags.delay
			}
			if cmd.Flags().Changed("timeout") {
				job.Timeout = flags.timeout
			}
			if cmd.Flags().Changed("follow-external") {
				job.FollowExternal = flags.followExternal
			}

			return withApp(cmd.Context(), func(app App, logger *zap.Logger) error {
				report, err := app.CrawlOnce(cmd.Context(), job, flags.downloadAssets)
				if err != nil {
					return fmt.Errorf("crawl %s: %w", job.StartURL, err)
				}
				logger.Info("crawl finished",
					zap.String("snapshot_id", report.SnapshotID),
					zap.String("status", string(report.Status)),
					zap.Int("pages", report.PagesCount),
				)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				if report.Status == crawler.JobStatusFailed {
					return fmt.Errorf("crawl failed: %s", report.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.depth, "depth", 0, "maximum link depth from the start page")
	cmd.Flags().IntVar(&flags.pages, "pages", 0, "maximum number of pages to archive")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "pause after every fetch")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-request timeout")
	cmd.Flags().StringSliceVar(&flags.domains, "domain", nil, "extra in-scope domain (repeatable)")
	cmd.Flags().BoolVar(&flags.followExternal, "follow-external", false, "follow links outside the domain scope")
	cmd.Flags().BoolVar(&flags.downloadAssets, "download-assets", false, "download page assets after the crawl")
	return cmd
}
