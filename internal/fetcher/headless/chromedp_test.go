package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, ScreenshotQuality: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
	if fetcher.cfg.ScreenshotQuality != defaultScreenshotQuality {
		t.Fatalf("expected screenshot quality clamp, got %d", fetcher.cfg.ScreenshotQuality)
	}
}

func TestFetcherNavTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(0); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = 10 * time.Second
	if got := fetcher.navTimeout(0); got != 10*time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
	if got := fetcher.navTimeout(2 * time.Second); got != 2*time.Second {
		t.Fatalf("expected shorter request timeout to win, got %v", got)
	}
	if got := fetcher.navTimeout(time.Minute); got != 10*time.Second {
		t.Fatalf("expected longer request timeout to be capped, got %v", got)
	}
}

func TestDocumentResponseRecordsMainDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.listen(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	status, headers, url := doc.result("https://req", "https://final")
	require.Equal(t, 204, status)
	require.Equal(t, "https://example.com/rendered", url)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))

	headers.Set("X-Request-ID", "changed")
	_, again, _ := doc.result("https://req", "")
	require.Equal(t, "abc", again.Get("X-Request-ID"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, headers, url := doc.result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
	require.NotNil(t, headers)

	_, _, url = doc.result("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestDocumentResponseIgnoresSubresources(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	doc.listen("not an event")
	status, _, url := doc.result("https://example.com/", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com/", url)
}
