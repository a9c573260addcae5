package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/archive"
	"github.com/JakeFAU/web-archiver/internal/config"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/dispatcher"
	"github.com/JakeFAU/web-archiver/internal/metrics"
	"github.com/JakeFAU/web-archiver/internal/progress/sinks"
)

// JobDispatcher accepts crawl jobs and asset downloads.
type JobDispatcher interface {
	Submit(ctx context.Context, job crawler.CrawlJob, downloadAssets bool) (dispatcher.Submission, error)
	DownloadAssets(ctx context.Context, snapshotID string) error
	Cancel(jobID string) bool
}

// Purger deletes expired snapshots.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Verifier checks archived bytes against their recorded digest.
type Verifier interface {
	Verify(data []byte, digest string) bool
}

// LiveProgress exposes in-flight counts of running jobs.
type LiveProgress interface {
	Live(jobID string) (sinks.Counts, bool)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps groups the collaborators behind the HTTP handlers.
type Deps struct {
	Dispatcher JobDispatcher
	Snapshots  crawler.SnapshotStore
	Status     crawler.StatusReporter
	Writer     *archive.Writer
	Verifier   Verifier
	Purger     Purger
	Clock      crawler.Clock
	Live       LiveProgress
	Ready      map[string]ReadinessCheck
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const (
	requestTimeout = 60 * time.Second
	queueTimeout   = 5 * time.Second
	readyTimeout   = 3 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getJobStatus)
			r.Post("/cancel", s.cancelJob)
		})
		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", s.createSnapshot)
			r.Get("/", s.listSnapshots)
			r.Route("/{snapshot_id}", func(r chi.Router) {
				r.Get("/", s.getSnapshot)
				r.Get("/pages", s.listPages)
				r.Get("/page_content", s.getPageContent)
				r.Get("/assets", s.listAssets)
				r.Get("/asset_content", s.getAssetContent)
				r.Post("/assets/download", s.downloadAssets)
			})
		})
		r.Post("/maintenance/purge", s.purge)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.deps.Ready))
	for name := range s.deps.Ready {
		names = append(names, name)
	}
	sort.Strings(names)

	failing := map[string]string{}
	for _, name := range names {
		if err := s.deps.Ready[name](ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failing", failing))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type snapshotRequest struct {
	URL            string   `json:"url"`
	MaxDepth       *int     `json:"max_depth"`
	MaxPages       *int     `json:"max_pages"`
	DelaySeconds   *float64 `json:"delay_seconds"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
	DomainScope    []string `json:"domain_scope"`
	FollowExternal *bool    `json:"follow_external"`
	DownloadAssets bool     `json:"download_assets"`
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job := s.toCrawlJob(req)
	if _, err := crawler.ValidateJob(job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queueTimeout)
	defer cancel()
	sub, err := s.deps.Dispatcher.Submit(ctx, job, req.DownloadAssets)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit job failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, status, "failed to queue job")
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) toCrawlJob(req snapshotRequest) crawler.CrawlJob {
	job := crawler.CrawlJob{
		StartURL:       req.URL,
		MaxDepth:       valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepth),
		MaxPages:       valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPages),
		Delay:          s.cfg.CrawlDelay(),
		Timeout:        s.cfg.CrawlTimeout(),
		DomainScope:    cloneStringSlice(req.DomainScope),
		FollowExternal: valueOrDefault(req.FollowExternal, s.cfg.Crawler.FollowExternal),
	}
	if req.DelaySeconds != nil {
		job.Delay = time.Duration(*req.DelaySeconds * float64(time.Second))
	}
	if req.TimeoutSeconds != nil {
		job.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	return job
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	report, err := s.deps.Status.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job status lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job status")
		return
	}
	out := jobStatusDTO{JobStatusReport: report}
	if report.Status == crawler.JobStatusRunning && s.deps.Live != nil {
		if c, ok := s.deps.Live.Live(jobID); ok {
			out.Progress = &liveDTO{
				PagesFetched: c.Pages,
				Errors:       c.Errors,
				Bytes:        c.Bytes,
				LastURL:      c.LastURL,
				UpdatedAt:    c.UpdatedAt,
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type jobStatusDTO struct {
	crawler.JobStatusReport
	Progress *liveDTO `json:"progress,omitempty"`
}

type liveDTO struct {
	PagesFetched int       `json:"pages_fetched"`
	Errors       int       `json:"errors"`
	Bytes        int64     `json:"bytes"`
	LastURL      string    `json:"last_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if s.deps.Dispatcher.Cancel(jobID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "canceling"})
		return
	}
	report, err := s.deps.Status.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job status")
		return
	}
	writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", report.Status))
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Purger == nil {
		writeError(w, http.StatusServiceUnavailable, "purge unavailable")
		return
	}
	deleted, err := s.deps.Purger.Purge(r.Context(), s.deps.Clock.Now())
	if err != nil {
		s.logger.Error("purge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
