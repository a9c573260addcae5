package crawler

import (
	"context"
	"io"
	"time"
)

// SnapshotStore persists snapshot, page, and asset records.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snapshot Snapshot) error
	UpdateSnapshot(ctx context.Context, snapshotID string, update SnapshotUpdate) error
	GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error)
	ListExpiredSnapshots(ctx context.Context, cutoff time.Time) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
	RecordPage(ctx context.Context, page ArchivedPage) error
	ListPages(ctx context.Context, snapshotID string) ([]ArchivedPage, error)
	GetPage(ctx context.Context, snapshotID, url string) (ArchivedPage, error)
	RecordAsset(ctx context.Context, asset ArchivedAsset) error
	ListAssets(ctx context.Context, snapshotID string) ([]ArchivedAsset, error)
	// CompleteAsset fills the download fields of an asset record. It fails
	// with ErrAssetAlreadyStored when the record was already completed.
	CompleteAsset(ctx context.Context, asset ArchivedAsset) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	EnsureDir(ctx context.Context, path string) error
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// StatusReporter exposes job progress to external callers.
type StatusReporter interface {
	Report(ctx context.Context, report JobStatusReport) error
	Status(ctx context.Context, jobID string) (JobStatusReport, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher performs one outbound request for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for archive jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and snapshot IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
