package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-archiver/internal/archive"
	"github.com/JakeFAU/web-archiver/internal/crawler"
	ids "github.com/JakeFAU/web-archiver/internal/id/uuid"
)

const (
	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 500
)

// listSnapshots handles GET /v1/snapshots?status=&limit=&offset=. It returns
// {"snapshots": [...]} or 400 for invalid filters.
func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSnapshotLimit, maxSnapshotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := s.deps.Snapshots.ListSnapshots(r.Context(), crawler.SnapshotFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list snapshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []crawler.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

type snapshotDTO struct {
	crawler.Snapshot
	Metadata *archive.SnapshotMetadata `json:"metadata,omitempty"`
}

// getSnapshot handles GET /v1/snapshots/{snapshot_id}: the record plus its
// decrypted metadata. A metadata token that fails to decrypt yields 500.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	dto := snapshotDTO{Snapshot: snap}
	if snap.EncryptedMetadata != "" {
		meta, err := s.deps.Writer.OpenMetadata(snap.EncryptedMetadata)
		if err != nil {
			s.logger.Error("open metadata failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to decrypt metadata")
			return
		}
		dto.Metadata = &meta
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	pages, err := s.deps.Snapshots.ListPages(r.Context(), snap.ID)
	if err != nil {
		s.logger.Error("list pages failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	if pages == nil {
		pages = []crawler.ArchivedPage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// getPageContent handles GET /v1/snapshots/{snapshot_id}/page_content?url=.
// It decrypts the archived HTML and checks it against the recorded hash.
func (s *Server) getPageContent(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	page, err := s.deps.Snapshots.GetPage(r.Context(), snap.ID, pageURL)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return
	}
	body, err := s.deps.Writer.LoadPage(r.Context(), page.FilePath)
	if err != nil {
		s.logger.Error("load page failed",
			zap.String("snapshot_id", snap.ID),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to decrypt page")
		return
	}
	if s.deps.Verifier != nil && page.ContentHash != "" && !s.deps.Verifier.Verify(body, page.ContentHash) {
		s.logger.Error("page hash mismatch", zap.String("snapshot_id", snap.ID), zap.String("url", pageURL))
		writeError(w, http.StatusInternalServerError, "archived page failed integrity check")
		return
	}
	contentType := page.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Archived-At", page.ArchivedAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write page content failed", zap.Error(err))
	}
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	assets, err := s.deps.Snapshots.ListAssets(r.Context(), snap.ID)
	if err != nil {
		s.logger.Error("list assets failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	if assets == nil {
		assets = []crawler.ArchivedAsset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// getAssetContent handles GET /v1/snapshots/{snapshot_id}/asset_content?url=.
func (s *Server) getAssetContent(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	assetURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if assetURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	assets, err := s.deps.Snapshots.ListAssets(r.Context(), snap.ID)
	if err != nil {
		s.logger.Error("list assets failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load asset")
		return
	}
	var asset crawler.ArchivedAsset
	for _, a := range assets {
		if a.URL == assetURL {
			asset = a
			break
		}
	}
	if asset.URL == "" {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	if asset.FilePath == "" {
		writeError(w, http.StatusNotFound, "asset not downloaded")
		return
	}
	body, err := s.deps.Writer.LoadAsset(r.Context(), asset.FilePath)
	if err != nil {
		s.logger.Error("load asset failed",
			zap.String("snapshot_id", snap.ID),
			zap.String("url", assetURL),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to decrypt asset")
		return
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write asset content failed", zap.Error(err))
	}
}

func (s *Server) downloadAssets(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	if !snap.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "snapshot is still "+string(snap.Status))
		return
	}
	if err := s.deps.Dispatcher.DownloadAssets(r.Context(), snap.ID); err != nil {
		s.logger.Error("queue asset download failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to queue asset download")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"snapshot_id": snap.ID, "status": "queued"})
}

// loadSnapshot resolves the snapshot_id path parameter, writing 400 or 404
// itself when it cannot.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (crawler.Snapshot, bool) {
	id := chi.URLParam(r, "snapshot_id")
	if !ids.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid snapshot_id")
		return crawler.Snapshot{}, false
	}
	snap, err := s.deps.Snapshots.GetSnapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return crawler.Snapshot{}, false
		}
		s.logger.Error("get snapshot failed", zap.String("snapshot_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return crawler.Snapshot{}, false
	}
	return snap, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "pending":
		return crawler.JobStatusPending, nil
	case "running":
		return crawler.JobStatusRunning, nil
	case "completed", "success":
		return crawler.JobStatusCompleted, nil
	case "failed", "error", "failure":
		return crawler.JobStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}
