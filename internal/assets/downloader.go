// Package assets downloads the static resources discovered during a crawl and
// stores them encrypted next to the snapshot's pages.
package assets

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/web-archiver/internal/archive"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/metrics"
)

const defaultContentType = "application/octet-stream"

// ErrHostBlocked is recorded for assets whose host kept refusing requests.
var ErrHostBlocked = errors.New("host blocked after repeated forbidden responses")

// Pacer delays requests to the same host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes a Downloader. A nil Pacer leaves requests unpaced.
type Config struct {
	Concurrency        int
	Timeout            time.Duration
	ForbiddenThreshold int
	Pacer              Pacer
}

// Failure is one asset that could not be stored.
type Failure struct {
	URL string
	Err error
}

// Report summarizes one Download call.
type Report struct {
	Downloaded int
	Skipped    int
	Failures   []Failure
	Bytes      int64
}

// Downloader fetches asset bytes in parallel.
type Downloader struct {
	fetcher crawler.Fetcher
	writer  *archive.Writer
	store   crawler.SnapshotStore
	retry   *crawler.ExponentialRetryPolicy
	blocker *crawler.HostBlocker
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a Downloader.
func New(
	fetcher crawler.Fetcher,
	writer *archive.Writer,
	store crawler.SnapshotStore,
	retry *crawler.ExponentialRetryPolicy,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		writer:  writer,
		store:   store,
		retry:   retry,
		blocker: crawler.NewHostBlocker(cfg.ForbiddenThreshold),
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Download stores every asset that has no file yet. A failing asset is
// recorded in the report and never affects the others. Records are completed
// at most once; losing a completion race counts as skipped.
func (d *Downloader) Download(ctx context.Context, snapshotID string, assets []crawler.ArchivedAsset) Report {
	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, asset := range assets {
		if asset.FilePath != "" {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			size, err := d.downloadOne(gctx, snapshotID, asset)
			ok := err == nil || errors.Is(err, crawler.ErrAssetAlreadyStored)
			metrics.ObserveAssetDownload(string(asset.AssetType), ok)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Downloaded++
				report.Bytes += size
			case errors.Is(err, crawler.ErrAssetAlreadyStored):
				report.Skipped++
			default:
				report.Failures = append(report.Failures, Failure{URL: asset.URL, Err: err})
				d.logger.Warn("asset download failed",
					zap.String("snapshot_id", snapshotID),
					zap.String("url", asset.URL),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (d *Downloader) downloadOne(ctx context.Context, snapshotID string, asset crawler.ArchivedAsset) (int64, error) {
	host := crawler.HostOf(asset.URL)
	if d.blocker.IsBlocked(host) {
		return 0, fmt.Errorf("%s: %w", host, ErrHostBlocked)
	}
	resp, err := d.fetchWithRetry(ctx, asset.URL)
	if err != nil {
		return 0, err
	}

	filePath, err := d.writer.WriteAsset(ctx, snapshotID, asset.URL, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("write asset: %w", err)
	}
	done := asset
	done.SnapshotID = snapshotID
	done.FilePath = filePath
	done.FileSize = int64(len(resp.Body))
	done.ContentType = ContentType(asset.URL, resp.Headers)
	done.ArchivedAt = d.clock.Now()
	if err := d.store.CompleteAsset(ctx, done); err != nil {
		return 0, fmt.Errorf("complete asset: %w", err)
	}
	return done.FileSize, nil
}

func (d *Downloader) fetchWithRetry(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	host := crawler.HostOf(rawURL)
	for attempt := 1; ; attempt++ {
		if d.cfg.Pacer != nil {
			if err := d.cfg.Pacer.Wait(ctx, rawURL); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}
		resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Timeout: d.cfg.Timeout})
		if err == nil {
			err = statusError(resp.StatusCode)
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
				d.blocker.MarkForbidden(host)
			}
		}
		if err == nil {
			return resp, nil
		}
		if !d.retry.ShouldRetry(err, attempt) || d.blocker.IsBlocked(host) {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s (attempt %d of %d): %w", rawURL, attempt, d.retry.MaxAttempts(), err)
		}
		if err := sleep(ctx, d.retry.Backoff(attempt)); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
}

// statusError classifies a response code: 429 and 5xx may be retried, any
// other non-200 status is permanent.
func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("HTTP %d", code)
	default:
		return &crawler.PermanentError{Err: fmt.Errorf("HTTP %d", code)}
	}
}

// ContentType picks the response's media type, falling back to the URL's
// extension and then application/octet-stream.
func ContentType(rawURL string, headers http.Header) string {
	if header := headers.Get("Content-Type"); header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil {
			return mediaType
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			if byExt := mime.TypeByExtension(ext); byExt != "" {
				if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
					return mediaType
				}
			}
		}
	}
	return defaultContentType
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
