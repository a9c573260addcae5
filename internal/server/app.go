// Package server builds the archiver's object graph from configuration and
// runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/api"
	"github.com/JakeFAU/web-archiver/internal/archive"
	"github.com/JakeFAU/web-archiver/internal/assets"
	"github.com/JakeFAU/web-archiver/internal/cipher"
	"github.com/JakeFAU/web-archiver/internal/clock/system"
	"github.com/JakeFAU/web-archiver/internal/config"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/web-archiver/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/web-archiver/internal/fetcher/headless"
	"github.com/JakeFAU/web-archiver/internal/fetcher/promote"
	"github.com/JakeFAU/web-archiver/internal/hash/sha256"
	"github.com/JakeFAU/web-archiver/internal/id/uuid"
	"github.com/JakeFAU/web-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/web-archiver/internal/progress"
	"github.com/JakeFAU/web-archiver/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/web-archiver/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/web-archiver/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/web-archiver/internal/queue/memory"
	"github.com/JakeFAU/web-archiver/internal/retention"
	gcsstorage "github.com/JakeFAU/web-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/web-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/web-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/web-archiver/internal/storage/postgres"
	redisstore "github.com/JakeFAU/web-archiver/internal/storage/redis"
	"github.com/JakeFAU/web-archiver/internal/telemetry"
	"github.com/JakeFAU/web-archiver/internal/worker"
)

// App holds the long-lived services of one archiver process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	snapshots crawler.SnapshotStore
	status    crawler.StatusReporter
	writer    *archive.Writer
	queue     *queuememory.Queue
	workers   []*worker.Worker
	dispatch  *dispatcher.Dispatcher
	purger    *retention.Purger
	hub       *progress.Hub
	tracker   *sinks.Tracker
	apiServer *api.Server

	pgStore        *pgstore.SnapshotStore
	redisStatus    *redisstore.StatusStore
	gcsClient      *storage.Client
	pubsubClient   *pubsub.Client
	pubsubPub      *gcppublisher.Publisher
	headless       *headlessfetcher.Fetcher
	tracerShutdown func(context.Context) error
}

// Build creates every dependency named by cfg. Close must be called on the
// returned App, also when Run is never reached.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.RequireSecret(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := app.build(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}

	if err = a.setupSnapshots(ctx); err != nil {
		return err
	}
	if err = a.setupStatus(); err != nil {
		return err
	}
	blobs, err := a.setupBlobs(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	engine, err := cipher.New(a.cfg.Archive.MasterSecret)
	if err != nil {
		return fmt.Errorf("cipher init failed: %w", err)
	}
	a.writer = archive.NewWriter(blobs, engine, a.logger.Named("archive"))

	fetcher, err := a.setupFetcher()
	if err != nil {
		return err
	}
	a.setupProgress()

	scheduler := crawler.NewScheduler(fetcher, sha256.New(), a.clock, a.logger.Named("scheduler"))
	if a.hub != nil {
		scheduler.WithObserver(progress.NewFetchObserver(a.hub))
	}

	a.setupPipeline(scheduler, publisher)
	a.purger = retention.New(a.snapshots, a.writer, a.cfg.RetentionMaxAge(), a.logger.Named("retention"))

	var live api.LiveProgress
	if a.tracker != nil {
		live = a.tracker
	}
	a.apiServer = api.NewServer(api.Deps{
		Dispatcher: a.dispatch,
		Snapshots:  a.snapshots,
		Status:     a.status,
		Writer:     a.writer,
		Verifier:   sha256.New(),
		Purger:     a.purger,
		Clock:      a.clock,
		Live:       live,
		Ready:      a.readinessChecks(),
	}, a.cfg, a.logger.Named("api"))
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, snapshot records are kept in memory")
		a.snapshots = memorystorage.NewSnapshotStore()
		return nil
	}
	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, a.cfg.DB.DSN); err != nil {
			return fmt.Errorf("db migrate failed: %w", err)
		}
		a.logger.Info("database migrations applied")
	}
	store, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return fmt.Errorf("snapshot store init failed: %w", err)
	}
	a.pgStore = store
	a.snapshots = store
	a.logger.Info("using postgres snapshot store", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupStatus() error {
	if a.cfg.Status.RedisAddr == "" {
		a.status = memorystorage.NewStatusStore()
		return nil
	}
	store, err := redisstore.New(redisstore.Config{
		Addr:   a.cfg.Status.RedisAddr,
		Prefix: a.cfg.Status.Prefix,
		TTL:    a.cfg.StatusTTL(),
	})
	if err != nil {
		return fmt.Errorf("status store init failed: %w", err)
	}
	a.redisStatus = store
	a.status = store
	a.logger.Info("using redis status store", zap.String("addr", a.cfg.Status.RedisAddr))
	return nil
}

func (a *App) setupBlobs(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Archive.GCSBucket,
			Prefix: a.cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using gcs archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Root})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("root", a.cfg.Archive.Root))
		return blobs, nil
	default:
		a.logger.Warn("using in-memory archive, artifacts are lost on exit")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client)
	a.logger.Info("publishing completions",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPub, nil
}

func (a *App) httpFetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:          a.cfg.Fetcher.UserAgent,
		RespectRobots:      a.cfg.Fetcher.RespectRobots,
		Timeout:            a.cfg.CrawlTimeout(),
		MaxBodyBytes:       a.cfg.Fetcher.MaxBodyBytes,
		InsecureSkipVerify: a.cfg.Fetcher.InsecureSkipVerify,
	}, a.logger.Named("colly"))
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	if a.cfg.Fetcher.Mode == "http" {
		a.logger.Info("using http fetcher", zap.String("user_agent", a.cfg.Fetcher.UserAgent))
		return a.httpFetcher(), nil
	}

	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Workers.Count,
		UserAgent:         a.cfg.Fetcher.UserAgent,
		NavigationTimeout: a.cfg.NavTimeout(),
		Screenshots:       a.cfg.Fetcher.Screenshots,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.headless = browser

	if a.cfg.Fetcher.Mode == "headless" {
		a.logger.Info("using headless fetcher", zap.Bool("screenshots", a.cfg.Fetcher.Screenshots))
		return browser, nil
	}
	a.logger.Info("using http fetcher with headless promotion",
		zap.Int("promote_threshold", a.cfg.Fetcher.PromoteThreshold),
	)
	return promote.New(
		a.httpFetcher(),
		browser,
		promote.NewHeuristic(a.cfg.Fetcher.PromoteThreshold),
		a.logger.Named("promote"),
	), nil
}

func (a *App) setupProgress() {
	if !a.cfg.Progress.Enabled {
		return
	}
	a.tracker = sinks.NewTracker()
	sinkList := []progress.Sink{a.tracker}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.ProgressBatchWait(),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
}

func (a *App) setupPipeline(scheduler *crawler.Scheduler, publisher crawler.Publisher) {
	initial, maxBackoff := a.cfg.AssetBackoff()
	downloader := assets.New(
		a.httpFetcher(),
		a.writer,
		a.snapshots,
		crawler.NewExponentialRetryPolicy(a.cfg.Assets.MaxRetries, initial, maxBackoff),
		a.clock,
		assets.Config{
			Concurrency:        a.cfg.Assets.Concurrency,
			Timeout:            a.cfg.AssetTimeout(),
			ForbiddenThreshold: a.cfg.Assets.ForbiddenThreshold,
			Pacer:              ratelimit.New(ratelimit.Config{RPS: a.cfg.Assets.HostRPS, Burst: a.cfg.Assets.HostBurst}),
		},
		a.logger.Named("assets"),
	)

	a.queue = queuememory.NewQueue(a.cfg.Workers.QueueDepth)
	cancels := worker.NewCancellations()
	deps := worker.Deps{
		Queue:         a.queue,
		Snapshots:     a.snapshots,
		Status:        a.status,
		Publisher:     publisher,
		Crawler:       scheduler,
		Writer:        a.writer,
		Downloader:    downloader,
		Clock:         a.clock,
		Cancellations: cancels,
	}
	if a.hub != nil {
		deps.Progress = a.hub
	}

	runners := make([]dispatcher.Runner, 0, a.cfg.Workers.Count)
	for i := range a.cfg.Workers.Count {
		w := worker.New(deps, worker.Config{Topic: a.cfg.PubSub.TopicName}, a.logger.Named("worker").With(zap.Int("index", i)))
		a.workers = append(a.workers, w)
		runners = append(runners, w)
	}
	a.dispatch = dispatcher.New(a.queue, runners, dispatcher.Options{
		Cancellations: cancels,
		IDs:           uuid.NewUUIDGenerator(),
		Status:        a.status,
		Clock:         a.clock,
		Logger:        a.logger.Named("dispatcher"),
	})
}

func (a *App) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if a.pgStore != nil {
		checks["postgres"] = a.pgStore.Ping
	}
	if a.redisStatus != nil {
		checks["redis"] = a.redisStatus.Ping
	}
	return checks
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the workers and the HTTP server until ctx is done, then shuts
// both down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// CrawlOnce archives job on the calling goroutine, including the asset
// download when requested, and returns the final status report.
func (a *App) CrawlOnce(ctx context.Context, job crawler.CrawlJob, downloadAssets bool) (crawler.JobStatusReport, error) {
	if _, err := crawler.ValidateJob(job); err != nil {
		return crawler.JobStatusReport{}, err
	}
	sub, err := a.dispatch.Submit(ctx, job, downloadAssets)
	if err != nil {
		return crawler.JobStatusReport{}, fmt.Errorf("submit crawl: %w", err)
	}
	w := a.workers[0]
	for a.queue.Len() > 0 {
		item, err := a.queue.Dequeue(ctx)
		if err != nil {
			return crawler.JobStatusReport{}, fmt.Errorf("dequeue: %w", err)
		}
		w.Process(ctx, item)
	}
	report, err := a.status.Status(ctx, sub.JobID)
	if err != nil {
		return crawler.JobStatusReport{}, fmt.Errorf("load job status: %w", err)
	}
	return report, nil
}

// Purge runs one retention pass.
func (a *App) Purge(ctx context.Context) (int, error) {
	return a.purger.Purge(ctx, a.clock.Now())
}

// Writer exposes the archive writer for offline tools.
func (a *App) Writer() *archive.Writer {
	return a.writer
}

// Close releases every client the App opened. It is safe on a partly built App.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisStatus != nil {
		if err := a.redisStatus.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
