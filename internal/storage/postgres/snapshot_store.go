// Package postgres provides the Postgres-backed snapshot record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// SnapshotStore implements crawler.SnapshotStore on Postgres.
type SnapshotStore struct {
	pool dbPool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SnapshotStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SnapshotStore{pool: pool}, nil
}

// Ping checks that the database answers.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateSnapshot inserts a new snapshot row.
func (s *SnapshotStore) CreateSnapshot(ctx context.Context, snap crawler.Snapshot) error {
	const query = `
INSERT INTO snapshots (
	id, job_id, start_url, domain, status, pages_count, assets_count,
	errors_count, total_size, encrypted_metadata, error_text, created_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := s.pool.Exec(ctx, query,
		snap.ID,
		snap.JobID,
		snap.StartURL,
		snap.Domain,
		string(snap.Status),
		snap.PagesCount,
		snap.AssetsCount,
		snap.ErrorsCount,
		snap.TotalSize,
		snap.EncryptedMetadata,
		snap.ErrorText,
		snap.CreatedAt,
		snap.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, mapError(err))
	}
	return nil
}

// UpdateSnapshot overwrites the mutable columns of a snapshot.
func (s *SnapshotStore) UpdateSnapshot(ctx context.Context, snapshotID string, update crawler.SnapshotUpdate) error {
	const query = `
UPDATE snapshots
SET status = $2, pages_count = $3, assets_count = $4, errors_count = $5,
	total_size = $6, encrypted_metadata = $7, error_text = $8, finished_at = $9
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		snapshotID,
		string(update.Status),
		update.PagesCount,
		update.AssetsCount,
		update.ErrorsCount,
		update.TotalSize,
		update.EncryptedMetadata,
		update.ErrorText,
		update.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update snapshot %s: %w", snapshotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
	}
	return nil
}

const snapshotColumns = `id, job_id, start_url, domain, status, pages_count, assets_count,
	errors_count, total_size, encrypted_metadata, error_text, created_at, finished_at`

// GetSnapshot loads one snapshot.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, snapshotID string) (crawler.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, snapshotID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Snapshot{}, fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
		}
		return crawler.Snapshot{}, fmt.Errorf("select snapshot %s: %w", snapshotID, err)
	}
	return snap, nil
}

// ListSnapshots returns snapshots newest first. A zero limit means no limit.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, filter crawler.SnapshotFilter) ([]crawler.Snapshot, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`,
		string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// ListExpiredSnapshots returns completed or failed snapshots created before
// cutoff, oldest first.
func (s *SnapshotStore) ListExpiredSnapshots(ctx context.Context, cutoff time.Time) ([]crawler.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots
WHERE status IN ($1, $2) AND created_at < $3
ORDER BY created_at`,
		string(crawler.JobStatusCompleted), string(crawler.JobStatusFailed), cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]crawler.Snapshot, error) {
	defer rows.Close()

	var out []crawler.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes a snapshot; page and asset rows cascade.
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, snapshotID)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %s: %w", snapshotID, crawler.ErrNotFound)
	}
	return nil
}

// RecordPage inserts a page row.
func (s *SnapshotStore) RecordPage(ctx context.Context, page crawler.ArchivedPage) error {
	const query = `
INSERT INTO archived_pages (
	snapshot_id, url, title, status_code, content_type, file_path,
	content_size, content_hash, screenshot_path, archived_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, query,
		page.SnapshotID,
		page.URL,
		page.Title,
		page.StatusCode,
		page.ContentType,
		page.FilePath,
		page.ContentSize,
		page.ContentHash,
		page.ScreenshotPath,
		page.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page %s: %w", page.URL, mapError(err))
	}
	return nil
}

const pageColumns = `snapshot_id, url, title, status_code, content_type, file_path,
	content_size, content_hash, screenshot_path, archived_at`

// ListPages returns a snapshot's pages in archive order.
func (s *SnapshotStore) ListPages(ctx context.Context, snapshotID string) ([]crawler.ArchivedPage, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pageColumns+` FROM archived_pages
WHERE snapshot_id = $1 ORDER BY archived_at, url`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()

	out := []crawler.ArchivedPage{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// GetPage loads the page row for url.
func (s *SnapshotStore) GetPage(ctx context.Context, snapshotID, url string) (crawler.ArchivedPage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM archived_pages
WHERE snapshot_id = $1 AND url = $2`, snapshotID, url)
	page, err := scanPage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.ArchivedPage{}, fmt.Errorf("page %s: %w", url, crawler.ErrNotFound)
		}
		return crawler.ArchivedPage{}, fmt.Errorf("select page %s: %w", url, err)
	}
	return page, nil
}

// RecordAsset inserts a discovered asset.
func (s *SnapshotStore) RecordAsset(ctx context.Context, asset crawler.ArchivedAsset) error {
	const query = `
INSERT INTO archived_assets (
	snapshot_id, url, asset_type, file_path, file_size, content_type, archived_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, query,
		asset.SnapshotID,
		asset.URL,
		string(asset.AssetType),
		asset.FilePath,
		asset.FileSize,
		asset.ContentType,
		asset.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", asset.URL, mapError(err))
	}
	return nil
}

// ListAssets returns every asset row of a snapshot.
func (s *SnapshotStore) ListAssets(ctx context.Context, snapshotID string) ([]crawler.ArchivedAsset, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot_id, url, asset_type, file_path, file_size, content_type, archived_at
FROM archived_assets WHERE snapshot_id = $1 ORDER BY url`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("select assets: %w", err)
	}
	defer rows.Close()

	out := []crawler.ArchivedAsset{}
	for rows.Next() {
		var asset crawler.ArchivedAsset
		if err := rows.Scan(
			&asset.SnapshotID,
			&asset.URL,
			&asset.AssetType,
			&asset.FilePath,
			&asset.FileSize,
			&asset.ContentType,
			&asset.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return out, nil
}

// CompleteAsset fills the download columns of an asset row. The update only
// matches rows without a file path, so concurrent completions resolve to one
// winner.
func (s *SnapshotStore) CompleteAsset(ctx context.Context, asset crawler.ArchivedAsset) error {
	const query = `
UPDATE archived_assets
SET file_path = $3, file_size = $4, content_type = $5, archived_at = $6
WHERE snapshot_id = $1 AND url = $2 AND file_path = ''`
	tag, err := s.pool.Exec(ctx, query,
		asset.SnapshotID,
		asset.URL,
		asset.FilePath,
		asset.FileSize,
		asset.ContentType,
		asset.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("complete asset %s: %w", asset.URL, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var existing string
	err = s.pool.QueryRow(ctx, `SELECT file_path FROM archived_assets WHERE snapshot_id = $1 AND url = $2`,
		asset.SnapshotID, asset.URL).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("asset %s: %w", asset.URL, crawler.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check asset %s: %w", asset.URL, err)
	}
	return fmt.Errorf("asset %s: %w", asset.URL, crawler.ErrAssetAlreadyStored)
}

func scanSnapshot(row pgx.Row) (crawler.Snapshot, error) {
	var (
		snap     crawler.Snapshot
		finished pgtype.Timestamptz
	)
	err := row.Scan(
		&snap.ID,
		&snap.JobID,
		&snap.StartURL,
		&snap.Domain,
		&snap.Status,
		&snap.PagesCount,
		&snap.AssetsCount,
		&snap.ErrorsCount,
		&snap.TotalSize,
		&snap.EncryptedMetadata,
		&snap.ErrorText,
		&snap.CreatedAt,
		&finished,
	)
	if err != nil {
		return crawler.Snapshot{}, err
	}
	if finished.Valid {
		t := finished.Time
		snap.FinishedAt = &t
	}
	return snap, nil
}

func scanPage(row pgx.Row) (crawler.ArchivedPage, error) {
	var page crawler.ArchivedPage
	err := row.Scan(
		&page.SnapshotID,
		&page.URL,
		&page.Title,
		&page.StatusCode,
		&page.ContentType,
		&page.FilePath,
		&page.ContentSize,
		&page.ContentHash,
		&page.ScreenshotPath,
		&page.ArchivedAt,
	)
	return page, err
}

// mapError translates constraint violations into store sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", crawler.ErrAlreadyExists, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", crawler.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
