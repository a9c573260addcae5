package progress

import (
	"context"
	"time"
)

// FetchObserver turns scheduler fetch callbacks into fetch_done events for the
// job tagged on the context. Untagged contexts are ignored.
type FetchObserver struct {
	emitter Emitter
	now     func() time.Time
}

// NewFetchObserver wraps an Emitter.
func NewFetchObserver(emitter Emitter) *FetchObserver {
	return &FetchObserver{emitter: emitter, now: time.Now}
}

// ObserveFetch implements crawler.FetchObserver.
func (o *FetchObserver) ObserveFetch(ctx context.Context, url string, status, size int, dur time.Duration, err error) {
	if o == nil || o.emitter == nil {
		return
	}
	jobID, snapshotID, ok := JobFrom(ctx)
	if !ok {
		return
	}
	evt := Event{
		JobID:       jobID,
		SnapshotID:  snapshotID,
		TS:          o.now().UTC(),
		Stage:       StageFetchDone,
		URL:         url,
		Bytes:       int64(size),
		StatusClass: ClassifyStatus(status),
		Dur:         dur,
	}
	if err != nil {
		evt.StatusClass = StatusFailed
		evt.Note = err.Error()
	}
	o.emitter.Emit(evt)
}
