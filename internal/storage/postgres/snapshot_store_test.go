package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

var snapshotCols = []string{
	"id", "job_id", "start_url", "domain", "status", "pages_count", "assets_count",
	"errors_count", "total_size", "encrypted_metadata", "error_text", "created_at", "finished_at",
}

func newMockStore(t *testing.T) (*SnapshotStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	snap := crawler.Snapshot{
		ID:        "snap-1",
		JobID:     "job-1",
		StartURL:  "https://example.com/",
		Domain:    "example.com",
		Status:    crawler.JobStatusRunning,
		CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("snap-1", "job-1", "https://example.com/", "example.com", "running",
			0, 0, 0, int64(0), "", "", created, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateSnapshot(context.Background(), snap))

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "snapshots_pkey"})
	err := store.CreateSnapshot(context.Background(), snap)
	require.ErrorIs(t, err, crawler.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	finished := time.Unix(1700000100, 0).UTC()
	update := crawler.SnapshotUpdate{
		Status:            crawler.JobStatusCompleted,
		PagesCount:        3,
		AssetsCount:       5,
		ErrorsCount:       1,
		TotalSize:         2048,
		EncryptedMetadata: "token",
		FinishedAt:        &finished,
	}

	mock.ExpectExec("UPDATE snapshots").
		WithArgs("snap-1", "completed", 3, 5, 1, int64(2048), "token", "", &finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateSnapshot(context.Background(), "snap-1", update))

	mock.ExpectExec("UPDATE snapshots").
		WithArgs("missing", "completed", 3, 5, 1, int64(2048), "token", "", &finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.UpdateSnapshot(context.Background(), "missing", update), crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	finished := created.Add(time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE id").
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(
			"snap-1", "job-1", "https://example.com/", "example.com", crawler.JobStatusCompleted,
			2, 4, 0, int64(100), "token", "", created, finished,
		))
	snap, err := store.GetSnapshot(context.Background(), "snap-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, snap.Status)
	require.Equal(t, 2, snap.PagesCount)
	require.Equal(t, "token", snap.EncryptedMetadata)
	require.NotNil(t, snap.FinishedAt)
	require.True(t, finished.Equal(*snap.FinishedAt))

	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetSnapshot(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiredSnapshots(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.AddDate(-1, 0, 0)

	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("completed", "failed", cutoff).
		WillReturnRows(pgxmock.NewRows(snapshotCols).
			AddRow("a", "job-a", "https://a.test/", "a.test", crawler.JobStatusCompleted,
				1, 0, 0, int64(10), "", "", old, nil).
			AddRow("b", "job-b", "https://b.test/", "b.test", crawler.JobStatusFailed,
				0, 0, 1, int64(0), "", "boom", old.Add(time.Hour), nil))

	expired, err := store.ListExpiredSnapshots(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	require.Equal(t, "a", expired[0].ID)
	require.Nil(t, expired[0].FinishedAt)
	require.Equal(t, "boom", expired[1].ErrorText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSnapshotsFiltersAndPages(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("failed", 10, 5).
		WillReturnRows(pgxmock.NewRows(snapshotCols).
			AddRow("c", "job-c", "https://c.test/", "c.test", crawler.JobStatusFailed,
				0, 0, 1, int64(0), "", "dns", created, nil))
	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("", nil, 0).
		WillReturnRows(pgxmock.NewRows(snapshotCols))

	failed, err := store.ListSnapshots(context.Background(), crawler.SnapshotFilter{
		Status: crawler.JobStatusFailed,
		Limit:  10,
		Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "dns", failed[0].ErrorText)

	all, err := store.ListSnapshots(context.Background(), crawler.SnapshotFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM snapshots").WithArgs("snap-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM snapshots").WithArgs("snap-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.DeleteSnapshot(context.Background(), "snap-1"))
	require.ErrorIs(t, store.DeleteSnapshot(context.Background(), "snap-1"), crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAndGetPage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	archived := time.Unix(1700000000, 0).UTC()
	page := crawler.ArchivedPage{
		SnapshotID:  "snap-1",
		URL:         "https://example.com/",
		Title:       "Home",
		StatusCode:  200,
		ContentType: "text/html",
		FilePath:    "snap-1/pages/https___example.com__1700000000.html.enc",
		ContentSize: 512,
		ContentHash: "abc",
		ArchivedAt:  archived,
	}

	mock.ExpectExec("INSERT INTO archived_pages").
		WithArgs(page.SnapshotID, page.URL, page.Title, page.StatusCode, page.ContentType,
			page.FilePath, page.ContentSize, page.ContentHash, "", archived).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordPage(context.Background(), page))

	mock.ExpectExec("INSERT INTO archived_pages").
		WithArgs(page.SnapshotID, page.URL, page.Title, page.StatusCode, page.ContentType,
			page.FilePath, page.ContentSize, page.ContentHash, "", archived).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})
	require.ErrorIs(t, store.RecordPage(context.Background(), page), crawler.ErrNotFound)

	pageCols := []string{"snapshot_id", "url", "title", "status_code", "content_type", "file_path",
		"content_size", "content_hash", "screenshot_path", "archived_at"}
	mock.ExpectQuery("SELECT (.+) FROM archived_pages").
		WithArgs("snap-1", "https://example.com/").
		WillReturnRows(pgxmock.NewRows(pageCols).AddRow(
			page.SnapshotID, page.URL, page.Title, page.StatusCode, page.ContentType,
			page.FilePath, page.ContentSize, page.ContentHash, "", archived))
	got, err := store.GetPage(context.Background(), "snap-1", "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, page, got)

	mock.ExpectQuery("SELECT (.+) FROM archived_pages").
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows(pageCols))
	pages, err := store.ListPages(context.Background(), "snap-1")
	require.NoError(t, err)
	require.Empty(t, pages)
	require.NotNil(t, pages)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssets(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	asset := crawler.ArchivedAsset{
		SnapshotID: "snap-1",
		URL:        "https://example.com/site.css",
		AssetType:  crawler.AssetCSS,
		ArchivedAt: now,
	}

	mock.ExpectExec("INSERT INTO archived_assets").
		WithArgs("snap-1", asset.URL, "css", "", int64(0), "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordAsset(context.Background(), asset))

	mock.ExpectQuery("SELECT (.+) FROM archived_assets WHERE snapshot_id").
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"snapshot_id", "url", "asset_type", "file_path", "file_size", "content_type", "archived_at",
		}).AddRow("snap-1", asset.URL, crawler.AssetCSS, "", int64(0), "", now))
	assets, err := store.ListAssets(context.Background(), "snap-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.ArchivedAsset{asset}, assets)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAsset(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	done := crawler.ArchivedAsset{
		SnapshotID:  "snap-1",
		URL:         "https://example.com/site.css",
		FilePath:    "snap-1/assets/https___example.com_site.css.enc",
		FileSize:    42,
		ContentType: "text/css",
		ArchivedAt:  now,
	}
	args := []any{done.SnapshotID, done.URL, done.FilePath, done.FileSize, done.ContentType, now}

	mock.ExpectExec("UPDATE archived_assets").WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CompleteAsset(context.Background(), done))

	mock.ExpectExec("UPDATE archived_assets").WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT file_path FROM archived_assets").
		WithArgs(done.SnapshotID, done.URL).
		WillReturnRows(pgxmock.NewRows([]string{"file_path"}).AddRow(done.FilePath))
	require.ErrorIs(t, store.CompleteAsset(context.Background(), done), crawler.ErrAssetAlreadyStored)

	mock.ExpectExec("UPDATE archived_assets").WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT file_path FROM archived_assets").
		WithArgs(done.SnapshotID, done.URL).
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, store.CompleteAsset(context.Background(), done), crawler.ErrNotFound)

	mock.ExpectExec("UPDATE archived_assets").WithArgs(args...).
		WillReturnError(errors.New("connection reset"))
	err := store.CompleteAsset(context.Background(), done)
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrAssetAlreadyStored)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
