package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/web-archiver/internal/crawler"
)

// StatusStore keeps the latest status report per job.
type StatusStore struct {
	mu      sync.RWMutex
	reports map[string]crawler.JobStatusReport
}

// NewStatusStore constructs an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{reports: make(map[string]crawler.JobStatusReport)}
}

// Report overwrites the stored status for report.JobID.
func (s *StatusStore) Report(_ context.Context, report crawler.JobStatusReport) error {
	if report.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.JobID] = report
	return nil
}

// Status returns the last report for jobID.
func (s *StatusStore) Status(_ context.Context, jobID string) (crawler.JobStatusReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[jobID]
	if !ok {
		return crawler.JobStatusReport{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return report, nil
}
