package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if archiverPagesTotal == nil || archiverBytesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		archiverAssetDownloadsTotal == nil || archiverSnapshotsPurgedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePage(t *testing.T) {
	Init()
	counter := archiverPagesTotal.WithLabelValues("pages.test", "success")
	before := testutil.ToFloat64(counter)
	ObservePage("https://pages.test/a", "success", 128)
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected pages counter %f, got %f", before+1, got)
	}
	if got := testutil.ToFloat64(archiverBytesTotal.WithLabelValues("pages.test")); got < 128 {
		t.Errorf("expected at least 128 bytes recorded, got %f", got)
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveAssetDownload("css", false)
	if got := testutil.ToFloat64(archiverAssetDownloadsTotal.WithLabelValues("css", "error")); got < 1 {
		t.Errorf("expected asset error counter to be incremented, got %f", got)
	}
	before := testutil.ToFloat64(archiverSnapshotsPurgedTotal)
	ObserveSnapshotsPurged(0)
	ObserveSnapshotsPurged(2)
	if got := testutil.ToFloat64(archiverSnapshotsPurgedTotal); got != before+2 {
		t.Errorf("expected purge counter %f, got %f", before+2, got)
	}
	ObserveCrawlDelay("delay.test", 250*time.Millisecond)
	if got := testutil.CollectAndCount(archiverCrawlDelaySeconds); got <= 0 {
		t.Errorf("expected crawl delay to be observed, got %d", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
