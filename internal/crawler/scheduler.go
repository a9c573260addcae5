package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/metrics"
)

const defaultRequestTimeout = 30 * time.Second

// Scheduler runs breadth-first crawls. A Scheduler holds no per-job state and
// may run several jobs concurrently; each Run owns its frontier and visited set.
type Scheduler struct {
	fetcher   Fetcher
	hasher    Hasher
	clock     Clock
	extractor *Extractor
	pauser    pauseController
	observer  FetchObserver
	logger    *zap.Logger
}

// FetchObserver is told about every fetch a Run makes.
type FetchObserver interface {
	ObserveFetch(ctx context.Context, url string, status, size int, dur time.Duration, err error)
}

// NewScheduler wires a scheduler with its collaborators.
func NewScheduler(fetcher Fetcher, hasher Hasher, clock Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		fetcher:   fetcher,
		hasher:    hasher,
		clock:     clock,
		extractor: NewExtractor(),
		pauser:    timerPauseController{},
		logger:    logger,
	}
}

// WithObserver attaches o to every Run and returns s.
func (s *Scheduler) WithObserver(o FetchObserver) *Scheduler {
	s.observer = o
	return s
}

// ValidateJob checks the bounds of job and returns its normalized start URL.
func ValidateJob(job CrawlJob) (string, error) {
	start := NormalizeURL(job.StartURL, "")
	if start == "" {
		return "", fmt.Errorf("%w: invalid start url %q", ErrJobSetup, job.StartURL)
	}
	if job.MaxPages <= 0 {
		return "", fmt.Errorf("%w: max pages must be positive", ErrJobSetup)
	}
	if job.MaxDepth < 0 {
		return "", fmt.Errorf("%w: max depth must not be negative", ErrJobSetup)
	}
	if job.Delay < 0 || job.Timeout < 0 {
		return "", fmt.Errorf("%w: delay and timeout must not be negative", ErrJobSetup)
	}
	return start, nil
}

// crawlState is the job-scoped mutable state of one Run.
type crawlState struct {
	job        CrawlJob
	linkScope  *Scope
	frontier   []FrontierEntry
	visited    *concurrentVisitTracker
	assetsSeen map[string]struct{}
	result     CrawlResult
	totalBytes int
}

// Run crawls job breadth-first and returns the collected result. Per-page
// failures are recorded in the result, never returned. Cancelling ctx stops
// the loop before the next fetch and yields the partial result with a nil
// error. Only an invalid job produces an error (wrapping ErrJobSetup).
func (s *Scheduler) Run(ctx context.Context, job CrawlJob) (CrawlResult, error) {
	start, err := ValidateJob(job)
	if err != nil {
		return CrawlResult{}, err
	}

	state := &crawlState{
		job:        job,
		linkScope:  linkScope(job, start),
		frontier:   []FrontierEntry{{URL: start, Depth: 0}},
		visited:    newConcurrentVisitTracker(),
		assetsSeen: make(map[string]struct{}),
		result: CrawlResult{
			StartURL:  start,
			Pages:     []Page{},
			Assets:    []Asset{},
			Errors:    []CrawlError{},
			StartedAt: s.clock.Now().UTC(),
		},
	}

	logger := s.logger.With(zap.String("start_url", start))
	logger.Info("crawl started",
		zap.Int("max_depth", job.MaxDepth),
		zap.Int("max_pages", job.MaxPages),
		zap.Bool("follow_external", job.FollowExternal),
		zap.Strings("scope", state.linkScope.Hosts()),
	)

	for len(state.frontier) > 0 && len(state.result.Pages) < job.MaxPages {
		if ctx.Err() != nil {
			state.result.Canceled = true
			break
		}
		entry := state.frontier[0]
		state.frontier = state.frontier[1:]

		if entry.Depth > job.MaxDepth {
			continue
		}
		if !state.visited.MarkIfNew(entry.URL) {
			continue
		}

		if canceled := s.visit(ctx, state, entry, logger); canceled {
			state.result.Canceled = true
			break
		}

		if len(state.frontier) > 0 && len(state.result.Pages) < job.MaxPages && job.Delay > 0 {
			metrics.ObserveCrawlDelay(entry.URL, job.Delay)
			s.pauser.Pause(ctx, job.Delay)
		}
	}

	s.finish(state)
	logger.Info("crawl finished",
		zap.Int("pages", state.result.Stats.PagesCrawled),
		zap.Int("errors", len(state.result.Errors)),
		zap.Bool("canceled", state.result.Canceled),
	)
	return state.result, nil
}

func linkScope(job CrawlJob, start string) *Scope {
	if job.FollowExternal {
		return nil
	}
	return NewScope(append([]string{HostOf(start)}, job.DomainScope...)...)
}

// visit fetches one entry and folds the outcome into state. It reports true
// when the fetch was interrupted by cancellation.
func (s *Scheduler) visit(ctx context.Context, state *crawlState, entry FrontierEntry, logger *zap.Logger) bool {
	timeout := state.job.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger.Debug("fetching", zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

	fetchStart := time.Now()
	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: entry.URL, Timeout: timeout})
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.observe(ctx, entry.URL, 0, 0, time.Since(fetchStart), err)
		logger.Warn("fetch failed", zap.String("url", entry.URL), zap.Error(err))
		metrics.ObservePage(entry.URL, "error", 0)
		state.result.Errors = append(state.result.Errors, CrawlError{
			URL:     entry.URL,
			Message: err.Error(),
			Kind:    ErrorKindTransport,
		})
		return false
	}
	s.observe(ctx, entry.URL, resp.StatusCode, len(resp.Body), time.Since(fetchStart), nil)
	if resp.StatusCode != http.StatusOK {
		logger.Warn("unexpected status", zap.String("url", entry.URL), zap.Int("status", resp.StatusCode))
		metrics.ObservePage(entry.URL, "http_"+strconv.Itoa(resp.StatusCode), len(resp.Body))
		state.result.Errors = append(state.result.Errors, CrawlError{
			URL:     entry.URL,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Kind:    ErrorKindHTTPStatus,
		})
		return false
	}

	digest, err := s.hasher.Hash(resp.Body)
	if err != nil {
		state.result.Errors = append(state.result.Errors, CrawlError{
			URL:     entry.URL,
			Message: fmt.Sprintf("hash body: %v", err),
			Kind:    ErrorKindTransport,
		})
		return false
	}

	content := s.extractor.Extract(resp.Body, entry.URL, state.linkScope)
	logger.Debug("extracted",
		zap.String("url", entry.URL),
		zap.Int("links", len(content.Links)),
		zap.Int("assets", content.AssetCount()),
	)
	page := Page{
		URL:         entry.URL,
		Title:       content.Title,
		Description: content.Description,
		RawHTML:     resp.Body,
		ContentHash: digest,
		Links:       content.Links,
		Assets:      content.Assets,
		StatusCode:  resp.StatusCode,
		Headers:     resp.Headers,
		SizeBytes:   len(resp.Body),
		Depth:       entry.Depth,
		FetchedAt:   s.clock.Now().UTC(),
		Screenshot:  resp.Screenshot,
	}
	state.result.Pages = append(state.result.Pages, page)
	state.totalBytes += page.SizeBytes
	metrics.ObservePage(entry.URL, "success", page.SizeBytes)

	for _, assetType := range AssetTypes {
		for _, u := range content.Assets[assetType] {
			if _, ok := state.assetsSeen[u]; ok {
				continue
			}
			state.assetsSeen[u] = struct{}{}
			state.result.Assets = append(state.result.Assets, Asset{URL: u, Type: assetType})
		}
	}

	if entry.Depth < state.job.MaxDepth {
		for _, link := range content.Links {
			if state.visited.Seen(link) {
				continue
			}
			state.frontier = append(state.frontier, FrontierEntry{URL: link, Depth: entry.Depth + 1})
		}
	}
	return false
}

func (s *Scheduler) observe(ctx context.Context, url string, status, size int, dur time.Duration, err error) {
	if s.observer != nil {
		s.observer.ObserveFetch(ctx, url, status, size, dur, err)
	}
}

func (s *Scheduler) finish(state *crawlState) {
	r := &state.result
	r.FinishedAt = s.clock.Now().UTC()
	stats := CrawlStats{
		PagesCrawled: len(r.Pages),
		TotalFound:   state.visited.Len(),
	}
	for _, p := range r.Pages {
		if p.Depth > stats.MaxDepthReached {
			stats.MaxDepthReached = p.Depth
		}
		stats.TotalLinks += len(p.Links)
		for _, urls := range p.Assets {
			stats.TotalAssets += len(urls)
		}
	}
	if len(r.Pages) > 0 {
		stats.AvgPageSize = state.totalBytes / len(r.Pages)
	}
	r.Stats = stats
}
