package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCrawlJobsFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{Kind: crawler.QueueKindDownloadAssets, JobID: "assets-1"}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{Kind: crawler.QueueKindDownloadAssets, JobID: "assets-2"}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{Kind: crawler.QueueKindCrawl, JobID: "crawl-1"}))
	require.Equal(t, 3, q.Len())

	var order []string
	for range 3 {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, item.JobID)
	}
	require.Equal(t, []string{"crawl-1", "assets-1", "assets-2"}, order)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.EqualError(t, q.Enqueue(ctx, crawler.QueueItem{}), "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed)
	q.Close()
}
