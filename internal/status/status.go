// Package status projects ledger state for external status queries.
package status

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// Reporter reads jobs from the ledger and never mutates them.
type Reporter struct {
	jobs crawler.JobReader
}

// NewReporter constructs a Reporter.
func NewReporter(jobs crawler.JobReader) *Reporter {
	return &Reporter{jobs: jobs}
}

// Status returns the projection for crawlID. Unknown jobs yield crawler.ErrJobNotFound.
func (r *Reporter) Status(ctx context.Context, crawlID string) (crawler.Status, error) {
	job, err := r.jobs.Read(ctx, crawlID)
	if err != nil {
		return crawler.Status{}, fmt.Errorf("status %s: %w", crawlID, err)
	}
	return Project(job), nil
}

// Project maps a ledger record to its public view.
func Project(job crawler.Job) crawler.Status {
	return crawler.Status{
		CrawlID:      job.ID,
		RootURL:      job.RootURL,
		Status:       job.Status,
		Distance:     job.MaxDistanceSeen,
		StartTime:    job.StartTime,
		LastModified: job.LastModified,
		StopReason:   job.StopReason,
		NumPages:     job.NumPages,
		Limits:       job.Limits,
	}
}
