// Package worker implements the archive job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/archive"
	"github.com/JakeFAU/web-archiver/internal/assets"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/metrics"
	"github.com/JakeFAU/web-archiver/internal/progress"
)

const tracerName = "github.com/JakeFAU/web-archiver/internal/worker"

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion events. Empty disables publishing.
	Topic string
}

// Crawler runs one crawl job to completion.
type Crawler interface {
	Run(ctx context.Context, job crawler.CrawlJob) (crawler.CrawlResult, error)
}

// AssetDownloader fetches and archives the bytes of discovered assets.
type AssetDownloader interface {
	Download(ctx context.Context, snapshotID string, assets []crawler.ArchivedAsset) assets.Report
}

// Cancellations tracks the cancel functions of running crawl jobs.
type Cancellations struct {
	funcs sync.Map
}

// NewCancellations returns an empty registry.
func NewCancellations() *Cancellations {
	return &Cancellations{}
}

// Register stores cancel under jobID.
func (c *Cancellations) Register(jobID string, cancel context.CancelFunc) {
	c.funcs.Store(jobID, cancel)
}

// Cancel aborts the crawl registered under jobID. It reports whether one was running.
func (c *Cancellations) Cancel(jobID string) bool {
	v, ok := c.funcs.Load(jobID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Remove forgets jobID.
func (c *Cancellations) Remove(jobID string) {
	c.funcs.Delete(jobID)
}

// Deps groups the collaborators a Worker needs.
type Deps struct {
	Queue         crawler.Queue
	Snapshots     crawler.SnapshotStore
	Status        crawler.StatusReporter
	Publisher     crawler.Publisher
	Crawler       Crawler
	Writer        *archive.Writer
	Downloader    AssetDownloader
	Clock         crawler.Clock
	Cancellations *Cancellations
	// Progress receives job lifecycle events. Optional.
	Progress progress.Emitter
}

// Worker consumes queue items and executes the archive pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Cancellations == nil {
		deps.Cancellations = NewCancellations()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued item", zap.String("job_id", item.JobID), zap.String("kind", string(item.Kind)))
		w.Process(ctx, item)
	}
}

// Process handles a single queue item.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker."+string(item.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("archiver.job_id", item.JobID),
		attribute.String("archiver.snapshot_id", item.SnapshotID),
	)

	switch item.Kind {
	case crawler.QueueKindDownloadAssets:
		w.downloadAssets(ctx, item)
	default:
		w.crawl(ctx, item)
	}
}

type jobTotals struct {
	pages     int
	assets    int
	errors    int
	totalSize int64
	canceled  bool
}

func (w *Worker) crawl(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("snapshot_id", item.SnapshotID))
	now := w.deps.Clock.Now()

	ctx = progress.WithJob(ctx, item.JobID, item.SnapshotID)
	w.report(ctx, item, crawler.JobStatusRunning, jobTotals{}, "")
	w.emit(item, progress.StageJobStart, "")

	snapshot := crawler.Snapshot{
		ID:        item.SnapshotID,
		JobID:     item.JobID,
		StartURL:  item.Job.StartURL,
		Domain:    crawler.HostOf(crawler.NormalizeURL(item.Job.StartURL, "")),
		Status:    crawler.JobStatusRunning,
		CreatedAt: now,
	}
	if err := w.deps.Snapshots.CreateSnapshot(ctx, snapshot); err != nil {
		logger.Error("create snapshot failed", zap.Error(err))
		w.fail(ctx, item, fmt.Errorf("create snapshot: %w", err), false)
		return
	}
	if err := w.deps.Writer.PrepareSnapshot(ctx, item.SnapshotID); err != nil {
		logger.Error("prepare snapshot failed", zap.Error(err))
		w.fail(ctx, item, fmt.Errorf("%w: %w", crawler.ErrJobSetup, err), true)
		return
	}

	crawlCtx, cancel := context.WithCancel(ctx)
	w.deps.Cancellations.Register(item.JobID, cancel)
	result, err := w.deps.Crawler.Run(crawlCtx, item.Job)
	w.deps.Cancellations.Remove(item.JobID)
	cancel()
	if err != nil {
		logger.Warn("crawl setup failed", zap.Error(err))
		w.fail(ctx, item, err, true)
		return
	}
	metrics.ObserveCrawlDuration(result.FinishedAt.Sub(result.StartedAt))

	totals := jobTotals{errors: len(result.Errors), canceled: result.Canceled}
	totals.pages, totals.totalSize, totals.errors = w.archivePages(ctx, item, result, totals.errors)
	totals.assets = w.recordAssets(ctx, item.SnapshotID, result)

	meta := archive.NewSnapshotMetadata(item.Job, result)
	meta.Extra = map[string]any{"job_id": item.JobID}
	token, err := w.deps.Writer.SealMetadata(meta)
	if err != nil {
		logger.Error("seal metadata failed", zap.Error(err))
		token = ""
	}

	finished := w.deps.Clock.Now()
	update := crawler.SnapshotUpdate{
		Status:            crawler.JobStatusCompleted,
		PagesCount:        totals.pages,
		AssetsCount:       totals.assets,
		ErrorsCount:       totals.errors,
		TotalSize:         totals.totalSize,
		EncryptedMetadata: token,
		FinishedAt:        &finished,
	}
	if err := w.deps.Snapshots.UpdateSnapshot(ctx, item.SnapshotID, update); err != nil {
		logger.Error("finalize snapshot failed", zap.Error(err))
		w.fail(ctx, item, fmt.Errorf("finalize snapshot: %w", err), false)
		return
	}

	message := ""
	if totals.canceled {
		message = "canceled"
	}
	w.report(ctx, item, crawler.JobStatusCompleted, totals, message)
	w.emit(item, progress.StageJobDone, message)
	w.publish(ctx, item, crawler.JobStatusCompleted, totals, message)
	metrics.ObserveJob(string(crawler.QueueKindCrawl), string(crawler.JobStatusCompleted))
	logger.Info("job completed",
		zap.Int("pages", totals.pages),
		zap.Int("assets", totals.assets),
		zap.Int("errors", totals.errors),
		zap.Bool("canceled", totals.canceled),
		zap.Duration("queue_wait", queueWait(item, now)),
	)

	if item.DownloadAssets && totals.assets > 0 {
		next := crawler.QueueItem{
			Kind:       crawler.QueueKindDownloadAssets,
			JobID:      item.JobID,
			SnapshotID: item.SnapshotID,
			Submitted:  finished.Unix(),
		}
		if err := w.deps.Queue.Enqueue(ctx, next); err != nil {
			logger.Warn("enqueue asset download failed", zap.Error(err))
		}
	}
}

// archivePages writes every page and records the successful ones. Page
// write failures are added to the error count.
func (w *Worker) archivePages(
	ctx context.Context,
	item crawler.QueueItem,
	result crawler.CrawlResult,
	crawlErrors int,
) (int, int64, int) {
	var (
		pages int
		size  int64
	)
	errs := crawlErrors
	for _, res := range w.deps.Writer.WritePages(ctx, item.SnapshotID, result.Pages, result.StartedAt) {
		if res.Err != nil {
			errs++
			continue
		}
		page := res.Page
		record := crawler.ArchivedPage{
			SnapshotID:     item.SnapshotID,
			URL:            page.URL,
			Title:          page.Title,
			StatusCode:     page.StatusCode,
			ContentType:    pageContentType(page),
			FilePath:       res.FilePath,
			ContentSize:    page.SizeBytes,
			ContentHash:    page.ContentHash,
			ScreenshotPath: res.ScreenshotPath,
			ArchivedAt:     w.deps.Clock.Now(),
		}
		if err := w.deps.Snapshots.RecordPage(ctx, record); err != nil {
			w.logger.Error("record page failed",
				zap.String("snapshot_id", item.SnapshotID),
				zap.String("url", page.URL),
				zap.Error(err),
			)
			errs++
			continue
		}
		pages++
		size += int64(page.SizeBytes)
	}
	return pages, size, errs
}

func (w *Worker) recordAssets(ctx context.Context, snapshotID string, result crawler.CrawlResult) int {
	count := 0
	for _, asset := range result.Assets {
		record := crawler.ArchivedAsset{
			SnapshotID: snapshotID,
			URL:        asset.URL,
			AssetType:  asset.Type,
		}
		err := w.deps.Snapshots.RecordAsset(ctx, record)
		if err != nil && !errors.Is(err, crawler.ErrAlreadyExists) {
			w.logger.Warn("record asset failed",
				zap.String("snapshot_id", snapshotID),
				zap.String("url", asset.URL),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	return count
}

func (w *Worker) downloadAssets(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("snapshot_id", item.SnapshotID))
	if w.deps.Downloader == nil {
		logger.Warn("asset download requested without a downloader")
		return
	}
	rows, err := w.deps.Snapshots.ListAssets(ctx, item.SnapshotID)
	if err != nil {
		logger.Error("list assets failed", zap.Error(err))
		metrics.ObserveJob(string(crawler.QueueKindDownloadAssets), string(crawler.JobStatusFailed))
		return
	}
	report := w.deps.Downloader.Download(ctx, item.SnapshotID, rows)
	for _, failure := range report.Failures {
		logger.Debug("asset download failed", zap.String("url", failure.URL), zap.Error(failure.Err))
	}
	metrics.ObserveJob(string(crawler.QueueKindDownloadAssets), string(crawler.JobStatusCompleted))
	logger.Info("asset download finished",
		zap.Int("downloaded", report.Downloaded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
		zap.Int64("bytes", report.Bytes),
	)
}

// fail marks the job FAILED everywhere it is visible. A failed job always
// carries a message.
func (w *Worker) fail(ctx context.Context, item crawler.QueueItem, cause error, recordExists bool) {
	message := cause.Error()
	if recordExists {
		finished := w.deps.Clock.Now()
		update := crawler.SnapshotUpdate{
			Status:     crawler.JobStatusFailed,
			ErrorText:  message,
			FinishedAt: &finished,
		}
		if err := w.deps.Snapshots.UpdateSnapshot(ctx, item.SnapshotID, update); err != nil {
			w.logger.Error("mark snapshot failed",
				zap.String("snapshot_id", item.SnapshotID),
				zap.Error(err),
			)
		}
	}
	w.report(ctx, item, crawler.JobStatusFailed, jobTotals{}, message)
	w.emit(item, progress.StageJobError, message)
	w.publish(ctx, item, crawler.JobStatusFailed, jobTotals{}, message)
	metrics.ObserveJob(string(crawler.QueueKindCrawl), string(crawler.JobStatusFailed))
}

func (w *Worker) report(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	totals jobTotals,
	message string,
) {
	if w.deps.Status == nil {
		return
	}
	report := crawler.JobStatusReport{
		JobID:       item.JobID,
		SnapshotID:  item.SnapshotID,
		Status:      status,
		PagesCount:  totals.pages,
		AssetsCount: totals.assets,
		ErrorsCount: totals.errors,
		Message:     message,
		UpdatedAt:   w.deps.Clock.Now(),
	}
	if err := w.deps.Status.Report(ctx, report); err != nil {
		w.logger.Error("status report failed",
			zap.String("job_id", item.JobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (w *Worker) emit(item crawler.QueueItem, stage progress.Stage, note string) {
	if w.deps.Progress == nil {
		return
	}
	w.deps.Progress.Emit(progress.Event{
		JobID:      item.JobID,
		SnapshotID: item.SnapshotID,
		TS:         w.deps.Clock.Now().UTC(),
		Stage:      stage,
		Note:       note,
	})
}

func (w *Worker) publish(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	totals jobTotals,
	message string,
) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := crawler.SnapshotEvent{
		JobID:      item.JobID,
		SnapshotID: item.SnapshotID,
		Status:     status,
		Pages:      totals.pages,
		Assets:     totals.assets,
		Errors:     totals.errors,
		Canceled:   totals.canceled,
		Message:    message,
		FinishedAt: w.deps.Clock.Now(),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Error("publish completion failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("published completion", zap.String("job_id", item.JobID), zap.String("message_id", id))
}

func pageContentType(page crawler.Page) string {
	if ct := page.Headers.Get("Content-Type"); ct != "" {
		return strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return "text/html"
}

func queueWait(item crawler.QueueItem, started time.Time) time.Duration {
	if item.Submitted == 0 {
		return 0
	}
	return started.Sub(time.Unix(item.Submitted, 0))
}
