package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/web-archiver/internal/progress"
)

// Counts is the live tally of a running job.
type Counts struct {
	Pages     int
	Errors    int
	Bytes     int64
	LastURL   string
	UpdatedAt time.Time
}

// Tracker keeps live counts for jobs between job_start and a terminal event.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]Counts
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]Counts)}
}

// Consume implements progress.Sink.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			t.jobs[evt.JobID] = Counts{UpdatedAt: evt.TS}
		case progress.StageFetchDone:
			c, ok := t.jobs[evt.JobID]
			if !ok {
				continue
			}
			if evt.StatusClass == progress.Status2xx {
				c.Pages++
			} else {
				c.Errors++
			}
			c.Bytes += evt.Bytes
			c.LastURL = evt.URL
			c.UpdatedAt = evt.TS
			t.jobs[evt.JobID] = c
		case progress.StageJobDone, progress.StageJobError:
			delete(t.jobs, evt.JobID)
		}
	}
	return nil
}

// Live returns the counts of a job that is still running.
func (t *Tracker) Live(jobID string) (Counts, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.jobs[jobID]
	return c, ok
}

// Close implements progress.Sink.
func (t *Tracker) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.jobs)
	return nil
}
