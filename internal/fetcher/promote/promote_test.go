package promote

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

type stubFetcher struct {
	resp  crawler.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.calls++
	return s.resp, s.err
}

type fixedDetector bool

func (d fixedDetector) NeedsRender(crawler.FetchResponse) bool { return bool(d) }

func TestFetcherKeepsProbeWhenDetectorDeclines(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("static")}}
	render := &stubFetcher{}
	f := New(static, render, fixedDetector(false), nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body))
	require.Zero(t, render.calls)
}

func TestFetcherPromotesToRender(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK}}
	render := &stubFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("rendered")}}
	f := New(static, render, fixedDetector(true), nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
	require.Equal(t, 1, render.calls)
}

func TestFetcherFallsBackWhenRenderFails(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("static")}}
	render := &stubFetcher{err: errors.New("chrome gone")}
	f := New(static, render, fixedDetector(true), nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body))
}

func TestFetcherReturnsProbeError(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: errors.New("refused")}
	render := &stubFetcher{}
	f := New(static, render, fixedDetector(true), nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.EqualError(t, err, "refused")
	require.Zero(t, render.calls)
}
