// Package progress carries live crawl events from workers to sinks. Events are
// batched by a Hub so emitting never blocks a crawl.
package progress
