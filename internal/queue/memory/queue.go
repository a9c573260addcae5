// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = crawler.ErrQueueClosed

// Queue is a bounded in-memory queue with two priorities: crawl jobs always
// dequeue before pending asset downloads.
type Queue struct {
	high    chan crawler.QueueItem
	low     chan crawler.QueueItem
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity items per priority.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		high: make(chan crawler.QueueItem, capacity),
		low:  make(chan crawler.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

func (q *Queue) lane(item crawler.QueueItem) chan crawler.QueueItem {
	if item.Kind == crawler.QueueKindDownloadAssets {
		return q.low
	}
	return q.high
}

// Enqueue pushes an item or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.lane(item) <- item:
		return nil
	}
}

// Dequeue pops the next item, high priority first, respecting context
// cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item := <-q.high:
		return item, nil
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.high:
		return item, nil
	case item := <-q.low:
		return item, nil
	case <-q.done:
		return crawler.QueueItem{}, ErrClosed
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.high) + len(q.low)
}

// Close stops the queue. Items still buffered are dropped.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.done)
	q.closed = true
}
