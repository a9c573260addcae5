// Package memory keeps blobs, snapshot records, and job status in-memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	dirs map[string]struct{}
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
		dirs: make(map[string]struct{}),
	}
}

// EnsureDir records path as a directory.
func (s *BlobStore) EnsureDir(_ context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[strings.TrimSuffix(path, "/")] = struct{}{}
	return nil
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), byteData...)
	return fmt.Sprintf("memory://%s", path), nil
}

// GetObject returns a copy of the stored bytes.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, crawler.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// DeletePrefix drops every object and directory under prefix.
func (s *BlobStore) DeletePrefix(_ context.Context, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.data {
		if underPrefix(p, prefix) {
			delete(s.data, p)
		}
	}
	for d := range s.dirs {
		if underPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	return nil
}

// Paths lists stored object paths in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.data))
	for p := range s.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// HasDir reports whether EnsureDir was called for path.
func (s *BlobStore) HasDir(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirs[strings.TrimSuffix(path, "/")]
	return ok
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
