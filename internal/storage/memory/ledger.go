// Package memory provides in-process ledger and claim stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// Ledger keeps job records in a map guarded by a mutex. Every method holds the lock for
// exactly one read-modify-write, which gives the same single-step atomicity a shared store does.
type Ledger struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{jobs: make(map[string]crawler.Job)}
}

// Create stores a new job.
func (l *Ledger) Create(_ context.Context, job crawler.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.jobs[job.ID]; exists {
		return fmt.Errorf("create %s: %w", job.ID, crawler.ErrJobExists)
	}
	l.jobs[job.ID] = job
	return nil
}

// Read fetches a job by id.
func (l *Ledger) Read(_ context.Context, crawlID string) (crawler.Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[crawlID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("read %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// IncrementPages adds one to numPages and returns the new count.
func (l *Ledger) IncrementPages(_ context.Context, crawlID string) (uint64, error) {
	var count uint64
	err := l.update(crawlID, func(job *crawler.Job) {
		job.NumPages++
		count = job.NumPages
	})
	return count, err
}

// Touch moves lastModified forward to at.
func (l *Ledger) Touch(_ context.Context, crawlID string, at time.Time) error {
	return l.update(crawlID, func(job *crawler.Job) {
		if at.After(job.LastModified) {
			job.LastModified = at
		}
	})
}

// ObserveDistance records distance if it exceeds the max seen so far.
func (l *Ledger) ObserveDistance(_ context.Context, crawlID string, distance int) error {
	return l.update(crawlID, func(job *crawler.Job) {
		if distance > job.MaxDistanceSeen {
			job.MaxDistanceSeen = distance
		}
	})
}

// TryStop moves an active job to stopped with reason. Returns false if it was already stopped.
func (l *Ledger) TryStop(_ context.Context, crawlID string, reason crawler.StopReason) (bool, error) {
	won := false
	err := l.update(crawlID, func(job *crawler.Job) {
		if job.Status != crawler.JobStatusActive {
			return
		}
		job.Status = crawler.JobStatusStopped
		job.StopReason = reason
		won = true
	})
	return won, err
}

// Delete drops the job record.
func (l *Ledger) Delete(_ context.Context, crawlID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, crawlID)
	return nil
}

func (l *Ledger) update(crawlID string, mutate func(job *crawler.Job)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[crawlID]
	if !ok {
		return fmt.Errorf("update %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	mutate(&job)
	l.jobs[crawlID] = job
	return nil
}
