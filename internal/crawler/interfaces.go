package crawler

import (
	"context"
	"time"
)

// JobReader reads ledger records.
type JobReader interface {
	Read(ctx context.Context, crawlID string) (Job, error)
}

// Ledger holds per-job counters and terminal state. Every mutation is a single atomic step
// against the backing store, so concurrent workers never need a lock.
type Ledger interface {
	JobReader
	// Create persists a new job. Returns ErrJobExists when the id is taken.
	Create(ctx context.Context, job Job) error
	// IncrementPages atomically adds one to numPages and returns the new count.
	IncrementPages(ctx context.Context, crawlID string) (uint64, error)
	// Touch moves lastModified forward to at. Older timestamps are ignored.
	Touch(ctx context.Context, crawlID string, at time.Time) error
	// ObserveDistance raises the max observed distance to distance if larger.
	ObserveDistance(ctx context.Context, crawlID string, distance int) error
	// TryStop flips Active to Stopped(reason). Only the winning caller gets true.
	TryStop(ctx context.Context, crawlID string, reason StopReason) (bool, error)
	// Delete removes a job whose root task never reached the frontier. Deleting a missing
	// job is not an error.
	Delete(ctx context.Context, crawlID string) error
}

// DedupGate is the per-job claim set for normalized URLs.
type DedupGate interface {
	// Admit returns true exactly once per (crawlID, url) across all callers.
	Admit(ctx context.Context, crawlID, url string) (bool, error)
}

// Frontier publishes tasks onto the distributed queue.
type Frontier interface {
	Publish(ctx context.Context, task Task) error
}

// Delivery is one consumed task. Ack after processing; Nack requeues it.
type Delivery interface {
	Task() Task
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// TaskSource yields deliveries to workers with no ordering guarantee.
type TaskSource interface {
	Consume(ctx context.Context) (Delivery, error)
}

// Queue is a frontier that can also be consumed from.
type Queue interface {
	Frontier
	TaskSource
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LinkExtractor pulls raw href values out of a fetched document.
type LinkExtractor interface {
	Extract(resp FetchResponse) ([]string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator creates crawl ids.
type IDGenerator interface {
	NewID() (string, error)
}
