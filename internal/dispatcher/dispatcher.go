// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/worker"
)

// Runner is the part of a worker the dispatcher drives.
type Runner interface {
	Run(ctx context.Context)
}

// Submission identifies an accepted crawl job.
type Submission struct {
	JobID      string `json:"job_id"`
	SnapshotID string `json:"snapshot_id"`
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	cancels *worker.Cancellations
	ids     crawler.IDGenerator
	status  crawler.StatusReporter
	clock   crawler.Clock
	logger  *zap.Logger
}

// Options carries the optional collaborators used by Submit and Cancel.
type Options struct {
	Cancellations *worker.Cancellations
	IDs           crawler.IDGenerator
	Status        crawler.StatusReporter
	Clock         crawler.Clock
	Logger        *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cancellations == nil {
		opts.Cancellations = worker.NewCancellations()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		cancels: opts.Cancellations,
		ids:     opts.IDs,
		status:  opts.Status,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit assigns ids to a crawl job, reports it pending and queues it.
func (d *Dispatcher) Submit(ctx context.Context, job crawler.CrawlJob, downloadAssets bool) (Submission, error) {
	if d.ids == nil {
		return Submission{}, fmt.Errorf("submit job: no id generator configured")
	}
	jobID, err := d.ids.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate job id: %w", err)
	}
	snapshotID, err := d.ids.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	sub := Submission{JobID: jobID, SnapshotID: snapshotID}

	var submitted int64
	if d.clock != nil {
		submitted = d.clock.Now().Unix()
	}
	if d.status != nil {
		report := crawler.JobStatusReport{
			JobID:      jobID,
			SnapshotID: snapshotID,
			Status:     crawler.JobStatusPending,
		}
		if d.clock != nil {
			report.UpdatedAt = d.clock.Now()
		}
		if err := d.status.Report(ctx, report); err != nil {
			d.logger.Warn("pending status report failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	item := crawler.QueueItem{
		Kind:           crawler.QueueKindCrawl,
		JobID:          jobID,
		SnapshotID:     snapshotID,
		Job:            job,
		DownloadAssets: downloadAssets,
		Submitted:      submitted,
	}
	if err := d.Enqueue(ctx, item); err != nil {
		return Submission{}, err
	}
	d.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("snapshot_id", snapshotID),
		zap.String("start_url", job.StartURL),
	)
	return sub, nil
}

// DownloadAssets queues a low-priority asset download for an existing snapshot.
func (d *Dispatcher) DownloadAssets(ctx context.Context, snapshotID string) error {
	item := crawler.QueueItem{
		Kind:       crawler.QueueKindDownloadAssets,
		SnapshotID: snapshotID,
	}
	if d.clock != nil {
		item.Submitted = d.clock.Now().Unix()
	}
	return d.Enqueue(ctx, item)
}

// Cancel aborts the crawl loop of a running job. It reports whether the job
// was running on one of this dispatcher's workers.
func (d *Dispatcher) Cancel(jobID string) bool {
	ok := d.cancels.Cancel(jobID)
	if ok {
		d.logger.Info("cancel requested", zap.String("job_id", jobID))
	}
	return ok
}
