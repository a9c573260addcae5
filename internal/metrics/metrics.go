// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	archiverPagesTotal              *prometheus.CounterVec
	archiverBytesTotal              *prometheus.CounterVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec
	archiverJobsTotal               *prometheus.CounterVec
	archiverActiveWorkers           prometheus.Gauge
	archiverCrawlDelaySeconds       *prometheus.HistogramVec
	archiverArtifactsWrittenTotal   *prometheus.CounterVec
	archiverAssetDownloadsTotal     *prometheus.CounterVec
	archiverSnapshotsPurgedTotal    prometheus.Counter
	archiverCrawlDurationSeconds    prometheus.Histogram
	archiverDecryptionFailuresTotal prometheus.Counter
	archiverHeadlessPromotionsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		archiverBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		archiverJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_jobs_total",
				Help: "Total number of jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		archiverActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		archiverCrawlDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_crawl_delay_seconds",
				Help:    "Histogram of inter-request politeness delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		archiverArtifactsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_artifacts_written_total",
				Help: "Encrypted artifacts written, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		archiverAssetDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_asset_downloads_total",
				Help: "Asset download attempts, labeled by asset type and result.",
			},
			[]string{"asset_type", "result"},
		)

		archiverSnapshotsPurgedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_snapshots_purged_total",
				Help: "Snapshots deleted by the retention purge.",
			},
		)

		archiverCrawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_crawl_duration_seconds",
				Help:    "Wall-clock duration of a crawl run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		archiverDecryptionFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_decryption_failures_total",
				Help: "Tokens that failed to decrypt.",
			},
		)

		archiverHeadlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_headless_promotions_total",
				Help: "Pages re-fetched in a browser after the plain HTTP fetch, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one page fetch outcome.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	archiverPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		archiverBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given kind and status.
func ObserveJob(kind, status string) {
	Init()
	archiverJobsTotal.WithLabelValues(kind, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	archiverActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	archiverActiveWorkers.Dec()
}

// ObserveCrawlDelay records the duration of an inter-request delay.
func ObserveCrawlDelay(domain string, duration time.Duration) {
	Init()
	archiverCrawlDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveArtifact records an encrypted artifact write.
func ObserveArtifact(kind string, ok bool) {
	Init()
	archiverArtifactsWrittenTotal.WithLabelValues(kind, result(ok)).Inc()
}

// ObserveAssetDownload records one asset download outcome.
func ObserveAssetDownload(assetType string, ok bool) {
	Init()
	archiverAssetDownloadsTotal.WithLabelValues(assetType, result(ok)).Inc()
}

// ObserveSnapshotsPurged adds n to the purge counter.
func ObserveSnapshotsPurged(n int) {
	Init()
	if n > 0 {
		archiverSnapshotsPurgedTotal.Add(float64(n))
	}
}

// ObserveCrawlDuration records how long a crawl run took.
func ObserveCrawlDuration(d time.Duration) {
	Init()
	archiverCrawlDurationSeconds.Observe(d.Seconds())
}

// ObserveDecryptionFailure counts a token that failed to decrypt.
func ObserveDecryptionFailure() {
	Init()
	archiverDecryptionFailuresTotal.Inc()
}

// ObservePromotion records a headless re-render of a statically fetched page.
func ObservePromotion(ok bool) {
	Init()
	archiverHeadlessPromotionsTotal.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
