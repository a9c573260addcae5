package crawler

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultForbiddenAttempts = 3

// concurrentVisitTracker is the job-scoped visited set. MarkIfNew is a single
// test-and-insert step so at-most-once fetch holds even if fetches overlap.
type concurrentVisitTracker struct {
	seen  sync.Map
	mu    sync.Mutex
	count int
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	if _, loaded := t.seen.LoadOrStore(url, struct{}{}); loaded {
		return false
	}
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
	return true
}

// Seen reports whether url has been marked.
func (t *concurrentVisitTracker) Seen(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// Len returns the number of marked URLs.
func (t *concurrentVisitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// HostBlocker tracks repeated forbidden responses and blocks hosts once a
// threshold is reached. It is safe for concurrent use.
type HostBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// NewHostBlocker returns a blocker that trips after threshold forbidden
// responses from the same host. Non-positive thresholds use a default of 3.
func NewHostBlocker(threshold int) *HostBlocker {
	if threshold <= 0 {
		threshold = defaultForbiddenAttempts
	}
	return &HostBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether host has been blocked.
func (b *HostBlocker) IsBlocked(host string) bool {
	if host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[key]
	return ok
}

// MarkForbidden increments the counter for host and returns true once blocked.
func (b *HostBlocker) MarkForbidden(host string) bool {
	if host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// pauseController abstracts the inter-request delay.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
