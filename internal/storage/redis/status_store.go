// Package redis stores job status reports in Redis so any API replica can
// answer status queries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// Config locates the Redis server and shapes the keys.
type Config struct {
	Addr   string
	Prefix string
	// TTL bounds how long a report outlives its last update. Zero keeps it forever.
	TTL time.Duration
}

// StatusStore implements crawler.StatusReporter on Redis.
type StatusStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New creates a StatusStore with its own client.
func New(cfg Config) (*StatusStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return NewWithClient(goredis.NewClient(&goredis.Options{Addr: cfg.Addr}), cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *StatusStore {
	return &StatusStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity.
func (s *StatusStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *StatusStore) Close() error {
	return s.client.Close()
}

// Report overwrites the stored status for report.JobID.
func (s *StatusStore) Report(ctx context.Context, report crawler.JobStatusReport) error {
	if report.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+report.JobID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", report.JobID, err)
	}
	return nil
}

// Status reads the last report for jobID.
func (s *StatusStore) Status(ctx context.Context, jobID string) (crawler.JobStatusReport, error) {
	val, err := s.client.Get(ctx, s.prefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return crawler.JobStatusReport{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
		}
		return crawler.JobStatusReport{}, fmt.Errorf("get status %s: %w", jobID, err)
	}
	var report crawler.JobStatusReport
	if err := json.Unmarshal(val, &report); err != nil {
		return crawler.JobStatusReport{}, fmt.Errorf("unmarshal status %s: %w", jobID, err)
	}
	return report, nil
}
