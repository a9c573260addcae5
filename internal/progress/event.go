package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage is the lifecycle point an Event marks.
type Stage string

// Supported stages.
const (
	StageJobStart  Stage = "job_start"
	StageFetchDone Stage = "fetch_done"
	StageJobDone   Stage = "job_done"
	StageJobError  Stage = "job_error"
)

// StatusClass groups HTTP status codes.
type StatusClass string

// Supported status classes. StatusFailed marks a transport failure.
const (
	Status2xx    StatusClass = "2xx"
	Status3xx    StatusClass = "3xx"
	Status4xx    StatusClass = "4xx"
	Status5xx    StatusClass = "5xx"
	StatusFailed StatusClass = "failed"
)

// Event is one milestone of a crawl job.
type Event struct {
	JobID       string
	SnapshotID  string
	TS          time.Time
	Stage       Stage
	URL         string
	Bytes       int64
	StatusClass StatusClass
	Dur         time.Duration
	Note        string
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageFetchDone:
		if e.URL == "" || e.StatusClass == "" {
			return errors.New("fetch event requires url and status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups an HTTP status code. Zero means no response.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500:
		return Status5xx
	default:
		return StatusFailed
	}
}

type jobKey struct{}

type jobRef struct {
	jobID      string
	snapshotID string
}

// WithJob tags ctx with the job its fetches belong to.
func WithJob(ctx context.Context, jobID, snapshotID string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobRef{jobID: jobID, snapshotID: snapshotID})
}

// JobFrom returns the ids stored by WithJob.
func JobFrom(ctx context.Context) (jobID, snapshotID string, ok bool) {
	ref, ok := ctx.Value(jobKey{}).(jobRef)
	return ref.jobID, ref.snapshotID, ok
}
