// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName names the per-user config directory.
const AppName = "archiver"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	Status    StatusConfig    `mapstructure:"status"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Retention RetentionConfig `mapstructure:"retention"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds the defaults applied to crawl jobs that leave a bound unset.
type CrawlerConfig struct {
	MaxDepth       int     `mapstructure:"max_depth"`
	MaxPages       int     `mapstructure:"max_pages"`
	DelaySeconds   float64 `mapstructure:"delay_seconds"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	FollowExternal bool    `mapstructure:"follow_external"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	// Mode is "http" (colly), "headless" (chromedp) or "auto" (colly with
	// chromedp for pages that look client-side rendered).
	Mode               string `mapstructure:"mode"`
	UserAgent          string `mapstructure:"user_agent"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
	PromoteThreshold   int    `mapstructure:"promote_threshold"`
	Screenshots        bool   `mapstructure:"screenshots"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	MaxBodyBytes       int    `mapstructure:"max_body_bytes"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ArchiveConfig locates encrypted artifacts and holds the master secret.
type ArchiveConfig struct {
	// Backend is "local", "gcs" or "memory".
	Backend      string `mapstructure:"backend"`
	Root         string `mapstructure:"root"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	MasterSecret string `mapstructure:"master_secret"`
}

// DBConfig controls access to the snapshot database. An empty DSN keeps
// records in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// StatusConfig configures the job status reporter. An empty RedisAddr keeps
// statuses in memory.
type StatusConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Prefix    string `mapstructure:"prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WorkersConfig sizes the job pipeline.
type WorkersConfig struct {
	Count      int `mapstructure:"count"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// AssetsConfig tunes the asset downloader.
type AssetsConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	MaxRetries         int `mapstructure:"max_retries"`
	BackoffInitialMs   int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	ForbiddenThreshold int `mapstructure:"forbidden_threshold"`
	// HostRPS paces downloads per host; zero disables pacing.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// RetentionConfig bounds how long snapshots are kept.
type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// ProgressConfig controls live crawl progress events.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEvents      bool `mapstructure:"log_events"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// TelemetryConfig describes the service to the tracer provider.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Load builds a Config from disk/environment. With an empty path the file at
// DefaultPath is read when it exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat default config: %w", err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.follow_external", false)
	v.SetDefault("fetcher.mode", "http")
	v.SetDefault("fetcher.user_agent", "web-archiver/0.1")
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.promote_threshold", 2048)
	v.SetDefault("fetcher.screenshots", false)
	v.SetDefault("fetcher.nav_timeout_seconds", 25)
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.insecure_skip_verify", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.root", filepath.Join(xdg.DataHome, AppName, "snapshots"))
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.master_secret", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("status.redis_addr", "")
	v.SetDefault("status.prefix", "archiver:status:")
	v.SetDefault("status.ttl_hours", 72)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("assets.concurrency", 4)
	v.SetDefault("assets.max_retries", 3)
	v.SetDefault("assets.backoff_initial_ms", 250)
	v.SetDefault("assets.backoff_max_ms", 5000)
	v.SetDefault("assets.timeout_seconds", 30)
	v.SetDefault("assets.forbidden_threshold", 3)
	v.SetDefault("assets.host_rps", 0.0)
	v.SetDefault("assets.host_burst", 1)
	v.SetDefault("retention.max_age_days", 365)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("telemetry.service_name", "web-archiver")
	v.SetDefault("telemetry.sample_ratio", 0.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Fetcher.Mode {
	case "http", "headless", "auto":
	default:
		return fmt.Errorf("fetcher.mode must be http, headless or auto, got %q", c.Fetcher.Mode)
	}
	switch c.Archive.Backend {
	case "local":
		if c.Archive.Root == "" {
			return fmt.Errorf("archive.root is required for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("archive.backend must be local, gcs or memory, got %q", c.Archive.Backend)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Assets.Concurrency <= 0 {
		return fmt.Errorf("assets.concurrency must be > 0")
	}
	if c.Assets.HostRPS < 0 {
		return fmt.Errorf("assets.host_rps must be >= 0")
	}
	if c.Retention.MaxAgeDays <= 0 {
		return fmt.Errorf("retention.max_age_days must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// RequireSecret reports an error when no master secret is configured. Only
// commands that touch encrypted artifacts call it.
func (c Config) RequireSecret() error {
	if c.Archive.MasterSecret == "" {
		return fmt.Errorf("archive.master_secret is required (set ARCHIVER_ARCHIVE_MASTER_SECRET)")
	}
	return nil
}

// CrawlDelay converts the configured delay to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds * float64(time.Second))
}

// CrawlTimeout is the per-request timeout for crawl fetches.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// StatusTTL is how long status reports are kept in Redis.
func (c Config) StatusTTL() time.Duration {
	return time.Duration(c.Status.TTLHours) * time.Hour
}

// NavTimeout bounds a headless navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetcher.NavTimeoutSeconds) * time.Second
}

// AssetTimeout bounds one asset fetch.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}

// AssetBackoff returns the initial and maximum retry backoff for assets.
func (c Config) AssetBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Assets.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Assets.BackoffMaxMs) * time.Millisecond
}

// ProgressBatchWait is how long the progress hub holds a partial batch.
func (c Config) ProgressBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// RetentionMaxAge is the age after which terminal snapshots are purged.
func (c Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeDays) * 24 * time.Hour
}
