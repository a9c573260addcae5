package crawler

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when inserting a duplicate record.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAssetAlreadyStored guards the at-most-once asset completion.
	ErrAssetAlreadyStored = errors.New("asset already stored")
	// ErrJobSetup marks failures that prevent a crawl from starting.
	ErrJobSetup = errors.New("job setup failed")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
