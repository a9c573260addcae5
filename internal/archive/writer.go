// Package archive persists crawl results as encrypted artifacts laid out per
// snapshot:
//
//	<snapshotID>/pages/<safe-url>_<unix>.html.enc
//	<snapshotID>/assets/<safe-url>.enc
//	<snapshotID>/screenshots/<safe-url>_<unix>.png.enc
//
// Every artifact holds a base64 cipher token as text.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/cipher"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	"github.com/JakeFAU/web-archiver/internal/metrics"
)

// Snapshot subdirectories.
const (
	PagesDir       = "pages"
	AssetsDir      = "assets"
	ScreenshotsDir = "screenshots"
)

const (
	tokenContentType = "text/plain; charset=utf-8"
	maxNameBytes     = 200
)

var unsafeChars = strings.NewReplacer("://", "_", "/", "_", "?", "_")

// PageResult is the outcome of writing one page.
type PageResult struct {
	Page           crawler.Page
	FilePath       string
	ScreenshotPath string
	Err            error
}

// Writer encrypts and stores snapshot artifacts.
type Writer struct {
	blobs  crawler.BlobStore
	cipher *cipher.Engine
	logger *zap.Logger
}

// NewWriter builds a Writer over a blob store and cipher engine.
func NewWriter(blobs crawler.BlobStore, engine *cipher.Engine, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{blobs: blobs, cipher: engine, logger: logger}
}

// PrepareSnapshot creates the snapshot's directory tree. Calling it again is
// harmless.
func (w *Writer) PrepareSnapshot(ctx context.Context, snapshotID string) error {
	if strings.TrimSpace(snapshotID) == "" {
		return fmt.Errorf("snapshot id is required")
	}
	for _, dir := range []string{PagesDir, AssetsDir, ScreenshotsDir} {
		if err := w.blobs.EnsureDir(ctx, path.Join(snapshotID, dir)); err != nil {
			return fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return nil
}

// SafeName flattens a URL into a single path segment: "://", "/" and "?"
// become "_". Names longer than 200 bytes are cut and suffixed with a short
// digest of the full URL so they stay unique.
func SafeName(rawURL string) string {
	name := unsafeChars.Replace(rawURL)
	if len(name) <= maxNameBytes {
		return name
	}
	sum := sha256.Sum256([]byte(rawURL))
	return name[:maxNameBytes] + "-" + hex.EncodeToString(sum[:6])
}

// PageFileName returns the file name for a page archived at ts.
func PageFileName(rawURL string, ts time.Time) string {
	return SafeName(rawURL) + "_" + strconv.FormatInt(ts.Unix(), 10) + ".html.enc"
}

// PagePath returns the object path of a page file.
func PagePath(snapshotID, rawURL string, ts time.Time) string {
	return path.Join(snapshotID, PagesDir, PageFileName(rawURL, ts))
}

// AssetPath returns the object path of a downloaded asset.
func AssetPath(snapshotID, rawURL string) string {
	return path.Join(snapshotID, AssetsDir, SafeName(rawURL)+".enc")
}

// ScreenshotPath returns the object path of a page screenshot.
func ScreenshotPath(snapshotID, rawURL string, ts time.Time) string {
	return path.Join(snapshotID, ScreenshotsDir,
		SafeName(rawURL)+"_"+strconv.FormatInt(ts.Unix(), 10)+".png.enc")
}

// WritePages encrypts and stores every page. File names carry each page's
// fetch time, or ts when it is unset. A failure on one page is recorded in its
// result and does not stop the others. Screenshots are written when present;
// a screenshot failure is logged but keeps the page.
func (w *Writer) WritePages(ctx context.Context, snapshotID string, pages []crawler.Page, ts time.Time) []PageResult {
	results := make([]PageResult, 0, len(pages))
	for _, page := range pages {
		stamp := page.FetchedAt
		if stamp.IsZero() {
			stamp = ts
		}
		res := PageResult{Page: page}
		res.FilePath, res.Err = w.writePage(ctx, snapshotID, page, stamp)
		if res.Err != nil {
			w.logger.Error("page write failed",
				zap.String("snapshot_id", snapshotID),
				zap.String("url", page.URL),
				zap.Error(res.Err),
			)
			metrics.ObserveArtifact("page", false)
			results = append(results, res)
			continue
		}
		metrics.ObserveArtifact("page", true)

		shot, err := w.WriteScreenshot(ctx, snapshotID, page, stamp)
		if err != nil {
			w.logger.Warn("screenshot write failed",
				zap.String("snapshot_id", snapshotID),
				zap.String("url", page.URL),
				zap.Error(err),
			)
		}
		res.ScreenshotPath = shot
		results = append(results, res)
	}
	return results
}

func (w *Writer) writePage(ctx context.Context, snapshotID string, page crawler.Page, ts time.Time) (string, error) {
	token, err := w.cipher.EncryptBytes(page.RawHTML)
	if err != nil {
		return "", fmt.Errorf("encrypt page: %w", err)
	}
	p := PagePath(snapshotID, page.URL, ts)
	if _, err := w.blobs.PutObject(ctx, p, tokenContentType, strings.NewReader(token)); err != nil {
		return "", fmt.Errorf("store page: %w", err)
	}
	return p, nil
}

// WriteScreenshot stores page.Screenshot encrypted. Pages without a
// screenshot are skipped and yield an empty path.
func (w *Writer) WriteScreenshot(ctx context.Context, snapshotID string, page crawler.Page, ts time.Time) (string, error) {
	if len(page.Screenshot) == 0 {
		return "", nil
	}
	token, err := w.cipher.EncryptBytes(page.Screenshot)
	if err != nil {
		return "", fmt.Errorf("encrypt screenshot: %w", err)
	}
	p := ScreenshotPath(snapshotID, page.URL, ts)
	if _, err := w.blobs.PutObject(ctx, p, tokenContentType, strings.NewReader(token)); err != nil {
		metrics.ObserveArtifact("screenshot", false)
		return "", fmt.Errorf("store screenshot: %w", err)
	}
	metrics.ObserveArtifact("screenshot", true)
	return p, nil
}

// WriteAsset stores downloaded asset bytes encrypted and returns the object
// path and plaintext size.
func (w *Writer) WriteAsset(ctx context.Context, snapshotID, rawURL string, data []byte) (string, error) {
	token, err := w.cipher.EncryptBytes(data)
	if err != nil {
		return "", fmt.Errorf("encrypt asset: %w", err)
	}
	p := AssetPath(snapshotID, rawURL)
	if _, err := w.blobs.PutObject(ctx, p, tokenContentType, strings.NewReader(token)); err != nil {
		metrics.ObserveArtifact("asset", false)
		return "", fmt.Errorf("store asset: %w", err)
	}
	metrics.ObserveArtifact("asset", true)
	return p, nil
}

// LoadPage reads and decrypts an archived page.
func (w *Writer) LoadPage(ctx context.Context, filePath string) ([]byte, error) {
	return w.load(ctx, filePath)
}

// LoadAsset reads and decrypts a downloaded asset.
func (w *Writer) LoadAsset(ctx context.Context, filePath string) ([]byte, error) {
	return w.load(ctx, filePath)
}

func (w *Writer) load(ctx context.Context, filePath string) ([]byte, error) {
	raw, err := w.blobs.GetObject(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, err)
	}
	data, err := w.cipher.DecryptBytes(strings.TrimSpace(string(raw)))
	if err != nil {
		if errors.Is(err, cipher.ErrDecryption) {
			metrics.ObserveDecryptionFailure()
		}
		return nil, fmt.Errorf("decrypt %s: %w", filePath, err)
	}
	return data, nil
}

// Purge removes the snapshot's whole artifact tree.
func (w *Writer) Purge(ctx context.Context, snapshotID string) error {
	if strings.TrimSpace(snapshotID) == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if err := w.blobs.DeletePrefix(ctx, snapshotID); err != nil {
		return fmt.Errorf("purge snapshot %s: %w", snapshotID, err)
	}
	return nil
}
