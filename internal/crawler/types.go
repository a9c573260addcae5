package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job or snapshot.
type JobStatus string

// Job status values persisted in the snapshot and status stores.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// AssetType categorizes a static resource discovered on a page.
type AssetType string

// Asset categories recognized by the extractor.
const (
	AssetCSS   AssetType = "css"
	AssetJS    AssetType = "js"
	AssetImage AssetType = "image"
	AssetFont  AssetType = "font"
	AssetOther AssetType = "other"
)

// AssetTypes lists every category in a stable order.
var AssetTypes = []AssetType{AssetCSS, AssetJS, AssetImage, AssetFont, AssetOther}

// ErrorKind classifies a per-page crawl failure.
type ErrorKind string

// Crawl error kinds.
const (
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindHTTPStatus ErrorKind = "http_status"
)

// CrawlJob captures the bounds of a single crawl run. It is immutable once
// the scheduler starts.
type CrawlJob struct {
	StartURL       string        `json:"start_url"`
	MaxDepth       int           `json:"max_depth"`
	MaxPages       int           `json:"max_pages"`
	Delay          time.Duration `json:"delay"`
	Timeout        time.Duration `json:"timeout"`
	DomainScope    []string      `json:"domain_scope,omitempty"`
	FollowExternal bool          `json:"follow_external"`
}

// FrontierEntry is one queued (url, depth) pair.
type FrontierEntry struct {
	URL   string
	Depth int
}

// Page is created once per unique URL per job and never mutated afterwards.
type Page struct {
	URL         string                 `json:"url"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	RawHTML     []byte                 `json:"-"`
	ContentHash string                 `json:"content_hash"`
	Links       []string               `json:"links"`
	Assets      map[AssetType][]string `json:"assets"`
	StatusCode  int                    `json:"status_code"`
	Headers     http.Header            `json:"headers"`
	SizeBytes   int                    `json:"size_bytes"`
	Depth       int                    `json:"depth"`
	FetchedAt   time.Time              `json:"fetched_at"`
	Screenshot  []byte                 `json:"-"`
}

// Asset is recorded at discovery time; LocalPath and SizeBytes stay empty
// until the separate download step fills them.
type Asset struct {
	URL         string    `json:"url"`
	Type        AssetType `json:"asset_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	LocalPath   string    `json:"local_path"`
}

// CrawlError records a per-page failure. It never aborts the job.
type CrawlError struct {
	URL     string    `json:"url"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

// CrawlStats summarizes a finished crawl.
type CrawlStats struct {
	PagesCrawled    int `json:"pages_crawled"`
	TotalFound      int `json:"total_found"`
	MaxDepthReached int `json:"max_depth_reached"`
	TotalLinks      int `json:"total_links"`
	TotalAssets     int `json:"total_assets"`
	AvgPageSize     int `json:"avg_page_size"`
}

// CrawlResult is the terminal output of one scheduler run.
type CrawlResult struct {
	StartURL   string       `json:"start_url"`
	Pages      []Page       `json:"pages"`
	Assets     []Asset      `json:"assets"`
	Errors     []CrawlError `json:"errors"`
	Stats      CrawlStats   `json:"stats"`
	Canceled   bool         `json:"canceled"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Screenshot []byte
}

// Snapshot is the persisted record of one crawl run.
type Snapshot struct {
	ID                string     `json:"id"`
	JobID             string     `json:"job_id"`
	StartURL          string     `json:"start_url"`
	Domain            string     `json:"domain"`
	Status            JobStatus  `json:"status"`
	PagesCount        int        `json:"pages_count"`
	AssetsCount       int        `json:"assets_count"`
	ErrorsCount       int        `json:"errors_count"`
	TotalSize         int64      `json:"total_size"`
	EncryptedMetadata string     `json:"-"`
	ErrorText         string     `json:"error_text,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// SnapshotFilter narrows a snapshot listing. An empty Status matches all.
type SnapshotFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// SnapshotUpdate carries the mutable fields of a Snapshot.
type SnapshotUpdate struct {
	Status            JobStatus
	PagesCount        int
	AssetsCount       int
	ErrorsCount       int
	TotalSize         int64
	EncryptedMetadata string
	ErrorText         string
	FinishedAt        *time.Time
}

// ArchivedPage is the stored metadata of one encrypted page artifact.
type ArchivedPage struct {
	SnapshotID     string    `json:"snapshot_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	StatusCode     int       `json:"status_code"`
	ContentType    string    `json:"content_type"`
	FilePath       string    `json:"file_path"`
	ContentSize    int       `json:"content_size"`
	ContentHash    string    `json:"content_hash"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// ArchivedAsset is the stored record of a discovered asset. FilePath and
// FileSize stay empty until the asset bytes are downloaded.
type ArchivedAsset struct {
	SnapshotID  string    `json:"snapshot_id"`
	URL         string    `json:"url"`
	AssetType   AssetType `json:"asset_type"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// JobStatusReport is what the job-status reporter exposes.
type JobStatusReport struct {
	JobID       string    `json:"job_id"`
	SnapshotID  string    `json:"snapshot_id"`
	Status      JobStatus `json:"status"`
	PagesCount  int       `json:"pages_count"`
	AssetsCount int       `json:"assets_count"`
	ErrorsCount int       `json:"errors_count"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SnapshotEvent is published when a crawl job reaches a terminal state.
type SnapshotEvent struct {
	JobID      string    `json:"job_id"`
	SnapshotID string    `json:"snapshot_id"`
	Status     JobStatus `json:"status"`
	Pages      int       `json:"pages"`
	Assets     int       `json:"assets"`
	Errors     int       `json:"errors"`
	Canceled   bool      `json:"canceled,omitempty"`
	Message    string    `json:"message,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// QueueKind selects what a queue item asks a worker to do.
type QueueKind string

// Queue item kinds.
const (
	QueueKindCrawl          QueueKind = "crawl"
	QueueKindDownloadAssets QueueKind = "download_assets"
)

// QueueItem wraps a unit of work ready to run.
type QueueItem struct {
	Kind           QueueKind
	JobID          string
	SnapshotID     string
	Job            CrawlJob
	DownloadAssets bool
	Submitted      int64
}
