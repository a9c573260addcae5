// Package crawler implements the crawl traversal engine: URL normalization
// and scoping, streaming content extraction, and the breadth-first scheduler.
// It also holds the domain types and collaborator interfaces shared by the
// archive, storage, and worker packages.
package crawler
