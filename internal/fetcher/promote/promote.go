// Package promote composes a plain HTTP fetcher with a browser renderer,
// re-fetching pages whose HTML looks client-side rendered.
package promote

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/metrics"
)

// Detector decides whether a static response needs a browser render.
type Detector interface {
	NeedsRender(resp crawler.FetchResponse) bool
}

// Fetcher fetches with the static fetcher first and promotes to render when the detector
// asks for it. A failed render falls back to the static response.
type Fetcher struct {
	static   crawler.Fetcher
	render   crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting Fetcher.
func New(static, render crawler.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{static: static, render: render, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.static.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, err //nolint:wrapcheck // the static fetcher already wraps its transport errors
	}
	if f.render == nil || f.detector == nil || !f.detector.NeedsRender(resp) {
		return resp, nil
	}

	rendered, err := f.render.Fetch(ctx, request)
	if err != nil {
		metrics.ObservePromotion(false)
		f.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	metrics.ObservePromotion(true)
	f.logger.Debug("headless promotion applied", zap.String("url", request.URL))
	return rendered, nil
}
