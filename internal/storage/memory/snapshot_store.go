package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// SnapshotStore provides an in-memory crawler.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]crawler.Snapshot
	pages     map[string][]crawler.ArchivedPage
	assets    map[string][]crawler.ArchivedAsset
}

// NewSnapshotStore constructs an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]crawler.Snapshot),
		pages:     make(map[string][]crawler.ArchivedPage),
		assets:    make(map[string][]crawler.ArchivedAsset),
	}
}

// CreateSnapshot stores a new snapshot record.
func (s *SnapshotStore) CreateSnapshot(_ context.Context, snapshot crawler.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snapshot.ID]; exists {
		return fmt.Errorf("snapshot %s: %w", snapshot.ID, crawler.ErrAlreadyExists)
	}
	s.snapshots[snapshot.ID] = snapshot
	return nil
}

// UpdateSnapshot replaces the mutable fields of a snapshot.
func (s *SnapshotStore) UpdateSnapshot(_ context.Context, snapshotID string, update crawler.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
	}
	snap.Status = update.Status
	snap.PagesCount = update.PagesCount
	snap.AssetsCount = update.AssetsCount
	snap.ErrorsCount = update.ErrorsCount
	snap.TotalSize = update.TotalSize
	snap.EncryptedMetadata = update.EncryptedMetadata
	snap.ErrorText = update.ErrorText
	snap.FinishedAt = copyTime(update.FinishedAt)
	s.snapshots[snapshotID] = snap
	return nil
}

// GetSnapshot fetches a snapshot by ID.
func (s *SnapshotStore) GetSnapshot(_ context.Context, snapshotID string) (crawler.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return crawler.Snapshot{}, fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
	}
	return snap, nil
}

// ListSnapshots returns snapshots newest first, filtered and paged.
func (s *SnapshotStore) ListSnapshots(_ context.Context, filter crawler.SnapshotFilter) ([]crawler.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Snapshot
	for _, snap := range s.snapshots {
		if filter.Status == "" || snap.Status == filter.Status {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListExpiredSnapshots returns terminal snapshots created before cutoff,
// oldest first.
func (s *SnapshotStore) ListExpiredSnapshots(_ context.Context, cutoff time.Time) ([]crawler.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Snapshot
	for _, snap := range s.snapshots {
		if snap.Status.IsTerminal() && snap.CreatedAt.Before(cutoff) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteSnapshot removes a snapshot and its page and asset records.
func (s *SnapshotStore) DeleteSnapshot(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[snapshotID]; !ok {
		return fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
	}
	delete(s.snapshots, snapshotID)
	delete(s.pages, snapshotID)
	delete(s.assets, snapshotID)
	return nil
}

// RecordPage appends a page row. URLs are unique per snapshot.
func (s *SnapshotStore) RecordPage(_ context.Context, page crawler.ArchivedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.pages[page.SnapshotID] {
		if existing.URL == page.URL {
			return fmt.Errorf("page %s: %w", page.URL, crawler.ErrAlreadyExists)
		}
	}
	s.pages[page.SnapshotID] = append(s.pages[page.SnapshotID], page)
	return nil
}

// ListPages returns all recorded pages for a snapshot.
func (s *SnapshotStore) ListPages(_ context.Context, snapshotID string) ([]crawler.ArchivedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[snapshotID]
	out := make([]crawler.ArchivedPage, len(pages))
	copy(out, pages)
	return out, nil
}

// GetPage returns the page row for url within a snapshot.
func (s *SnapshotStore) GetPage(_ context.Context, snapshotID, url string) (crawler.ArchivedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, page := range s.pages[snapshotID] {
		if page.URL == url {
			return page, nil
		}
	}
	return crawler.ArchivedPage{}, fmt.Errorf("page %s: %w", url, crawler.ErrNotFound)
}

// RecordAsset stores a discovered asset. URLs are unique per snapshot.
func (s *SnapshotStore) RecordAsset(_ context.Context, asset crawler.ArchivedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assets[asset.SnapshotID] {
		if existing.URL == asset.URL {
			return fmt.Errorf("asset %s: %w", asset.URL, crawler.ErrAlreadyExists)
		}
	}
	s.assets[asset.SnapshotID] = append(s.assets[asset.SnapshotID], asset)
	return nil
}

// ListAssets returns all asset rows for a snapshot.
func (s *SnapshotStore) ListAssets(_ context.Context, snapshotID string) ([]crawler.ArchivedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := s.assets[snapshotID]
	out := make([]crawler.ArchivedAsset, len(assets))
	copy(out, assets)
	return out, nil
}

// CompleteAsset fills the download fields of an asset row exactly once.
func (s *SnapshotStore) CompleteAsset(_ context.Context, asset crawler.ArchivedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.assets[asset.SnapshotID]
	for i := range rows {
		if rows[i].URL != asset.URL {
			continue
		}
		if rows[i].FilePath != "" {
			return fmt.Errorf("asset %s: %w", asset.URL, crawler.ErrAssetAlreadyStored)
		}
		rows[i].FilePath = asset.FilePath
		rows[i].FileSize = asset.FileSize
		rows[i].ContentType = asset.ContentType
		rows[i].ArchivedAt = asset.ArchivedAt
		return nil
	}
	return fmt.Errorf("asset %s: %w", asset.URL, crawler.ErrNotFound)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
