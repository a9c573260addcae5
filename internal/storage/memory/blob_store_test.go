package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "path/page.html")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "path/page.html")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestBlobStoreDeletePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	require.NoError(t, store.EnsureDir(ctx, "snap/pages/"))
	for _, p := range []string{"snap/pages/a.enc", "snap/assets/b.enc", "snapshot-2/pages/c.enc"} {
		_, err := store.PutObject(ctx, p, "", bytes.NewReader([]byte(p)))
		require.NoError(t, err)
	}
	require.True(t, store.HasDir("snap/pages"))

	require.NoError(t, store.DeletePrefix(ctx, "snap"))
	require.Equal(t, []string{"snapshot-2/pages/c.enc"}, store.Paths())
	require.False(t, store.HasDir("snap/pages"))
	require.Error(t, store.DeletePrefix(ctx, ""))
}
