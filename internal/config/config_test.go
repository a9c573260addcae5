package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  max_depth: 2
  max_pages: 25
  delay_seconds: 0.5
  timeout_seconds: 12
  follow_external: true
fetcher:
  mode: headless
  screenshots: true
  respect_robots: true
archive:
  backend: gcs
  gcs_bucket: snapshots
  prefix: archive
  master_secret: hunter2
status:
  redis_addr: localhost:6379
  ttl_hours: 6
workers:
  count: 3
  queue_depth: 16
retention:
  max_age_days: 30
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.MaxDepth != 2 || cfg.Crawler.MaxPages != 25 || !cfg.Crawler.FollowExternal {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.CrawlDelay(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms delay, got %v", got)
	}
	if got := cfg.CrawlTimeout(); got != 12*time.Second {
		t.Fatalf("expected 12s timeout, got %v", got)
	}
	if cfg.Fetcher.Mode != "headless" || !cfg.Fetcher.Screenshots || !cfg.Fetcher.RespectRobots {
		t.Fatalf("expected headless fetcher with screenshots: %+v", cfg.Fetcher)
	}
	if cfg.Archive.Backend != "gcs" || cfg.Archive.GCSBucket != "snapshots" {
		t.Fatalf("expected gcs archive: %+v", cfg.Archive)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("RequireSecret() error = %v", err)
	}
	if got := cfg.StatusTTL(); got != 6*time.Hour {
		t.Fatalf("expected 6h ttl, got %v", got)
	}
	if got := cfg.RetentionMaxAge(); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day retention, got %v", got)
	}
	if cfg.Workers.Count != 3 || cfg.Workers.QueueDepth != 16 {
		t.Fatalf("expected worker overrides: %+v", cfg.Workers)
	}
	if cfg.Assets.Concurrency != 4 {
		t.Fatalf("expected default asset concurrency, got %d", cfg.Assets.Concurrency)
	}
	if initial, maxBackoff := cfg.AssetBackoff(); initial != 250*time.Millisecond || maxBackoff != 5*time.Second {
		t.Fatalf("unexpected asset backoff %v/%v", initial, maxBackoff)
	}
	if !cfg.Progress.Enabled || cfg.ProgressBatchWait() != 250*time.Millisecond {
		t.Fatalf("expected progress defaults: %+v", cfg.Progress)
	}
	if cfg.Telemetry.ServiceName != "web-archiver" || cfg.ShutdownTimeout() != 10*time.Second {
		t.Fatalf("expected telemetry and shutdown defaults")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	if got := DefaultPath(); !strings.HasSuffix(got, filepath.Join(AppName, "config.yaml")) {
		t.Fatalf("unexpected default path %q", got)
	}
}

func TestRequireSecret(t *testing.T) {
	t.Parallel()

	if err := (Config{}).RequireSecret(); err == nil || !strings.Contains(err.Error(), "master_secret") {
		t.Fatalf("expected master secret error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Crawler:   CrawlerConfig{MaxDepth: 1, MaxPages: 10, TimeoutSeconds: 10},
		Fetcher:   FetcherConfig{Mode: "http"},
		Archive:   ArchiveConfig{Backend: "memory"},
		Workers:   WorkersConfig{Count: 1, QueueDepth: 1},
		Assets:    AssetsConfig{Concurrency: 1},
		Retention: RetentionConfig{MaxAgeDays: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid max pages", func(c *Config) { c.Crawler.MaxPages = 0 }, "crawler.max_pages"},
		{"negative depth", func(c *Config) { c.Crawler.MaxDepth = -1 }, "crawler.max_depth"},
		{"negative delay", func(c *Config) { c.Crawler.DelaySeconds = -1 }, "crawler.delay_seconds"},
		{"invalid timeout", func(c *Config) { c.Crawler.TimeoutSeconds = 0 }, "crawler.timeout_seconds"},
		{"unknown fetcher", func(c *Config) { c.Fetcher.Mode = "ftp" }, "fetcher.mode"},
		{"local without root", func(c *Config) { c.Archive.Backend = "local" }, "archive.root"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "archive.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }, "workers.count"},
		{"no queue", func(c *Config) { c.Workers.QueueDepth = 0 }, "workers.queue_depth"},
		{"no asset concurrency", func(c *Config) { c.Assets.Concurrency = 0 }, "assets.concurrency"},
		{"no retention", func(c *Config) { c.Retention.MaxAgeDays = 0 }, "retention.max_age_days"},
		{"negative host rps", func(c *Config) { c.Assets.HostRPS = -1 }, "assets.host_rps"},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
