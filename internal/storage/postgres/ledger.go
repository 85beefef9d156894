package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

const (
	insertJobSQL = `INSERT INTO crawl_jobs (crawl_id, root_url, scope_domain, max_distance, max_seconds, max_urls, start_time, last_modified, num_pages, max_distance_seen, stop_reason, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) ON CONFLICT (crawl_id) DO NOTHING`
	selectJobSQL = `SELECT root_url, scope_domain, max_distance, max_seconds, max_urls, start_time, last_modified, num_pages, max_distance_seen, stop_reason, status FROM crawl_jobs WHERE crawl_id = $1`
	incrementSQL = `UPDATE crawl_jobs SET num_pages = num_pages + 1 WHERE crawl_id = $1 RETURNING num_pages`
	touchSQL     = `UPDATE crawl_jobs SET last_modified = GREATEST(last_modified, $2) WHERE crawl_id = $1`
	observeSQL   = `UPDATE crawl_jobs SET max_distance_seen = GREATEST(max_distance_seen, $2) WHERE crawl_id = $1`
	tryStopSQL   = `UPDATE crawl_jobs SET status = $2, stop_reason = $3 WHERE crawl_id = $1 AND status = $4`
	jobExistsSQL = `SELECT EXISTS (SELECT 1 FROM crawl_jobs WHERE crawl_id = $1)`
	deleteJobSQL = `DELETE FROM crawl_jobs WHERE crawl_id = $1`
)

// Create inserts the job row.
func (s *Store) Create(ctx context.Context, job crawler.Job) error {
	tag, err := s.pool.Exec(ctx, insertJobSQL,
		job.ID,
		job.RootURL,
		job.ScopeDomain,
		job.Limits.MaxDistance,
		job.Limits.MaxSeconds,
		job.Limits.MaxURLs,
		job.StartTime,
		job.LastModified,
		int64(job.NumPages),
		job.MaxDistanceSeen,
		string(job.StopReason),
		string(job.Status),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create %s: %w", job.ID, crawler.ErrJobExists)
	}
	return nil
}

// Read loads one job row.
func (s *Store) Read(ctx context.Context, crawlID string) (crawler.Job, error) {
	var (
		job        crawler.Job
		pages      int64
		stopReason string
		status     string
	)
	err := s.pool.QueryRow(ctx, selectJobSQL, crawlID).Scan(
		&job.RootURL,
		&job.ScopeDomain,
		&job.Limits.MaxDistance,
		&job.Limits.MaxSeconds,
		&job.Limits.MaxURLs,
		&job.StartTime,
		&job.LastModified,
		&pages,
		&job.MaxDistanceSeen,
		&stopReason,
		&status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("read %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job %s: %w", crawlID, err)
	}
	job.ID = crawlID
	job.NumPages = uint64(pages)
	job.StopReason = crawler.StopReason(stopReason)
	job.Status = crawler.JobStatus(status)
	job.StartTime = job.StartTime.UTC()
	job.LastModified = job.LastModified.UTC()
	return job, nil
}

// IncrementPages bumps num_pages and returns the new value.
func (s *Store) IncrementPages(ctx context.Context, crawlID string) (uint64, error) {
	var pages int64
	err := s.pool.QueryRow(ctx, incrementSQL, crawlID).Scan(&pages)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("increment %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment pages %s: %w", crawlID, err)
	}
	return uint64(pages), nil
}

// Touch raises last_modified to at.
func (s *Store) Touch(ctx context.Context, crawlID string, at time.Time) error {
	return s.execOne(ctx, "touch", touchSQL, crawlID, at)
}

// ObserveDistance raises max_distance_seen to distance.
func (s *Store) ObserveDistance(ctx context.Context, crawlID string, distance int) error {
	return s.execOne(ctx, "observe distance", observeSQL, crawlID, distance)
}

func (s *Store) execOne(ctx context.Context, op, query, crawlID string, arg any) error {
	tag, err := s.pool.Exec(ctx, query, crawlID, arg)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, crawlID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, crawlID, crawler.ErrJobNotFound)
	}
	return nil
}

// TryStop updates the row only while it is still active.
func (s *Store) TryStop(ctx context.Context, crawlID string, reason crawler.StopReason) (bool, error) {
	tag, err := s.pool.Exec(ctx, tryStopSQL,
		crawlID,
		string(crawler.JobStatusStopped),
		string(reason),
		string(crawler.JobStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("try stop %s: %w", crawlID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, jobExistsSQL, crawlID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job %s: %w", crawlID, err)
	}
	if !exists {
		return false, fmt.Errorf("try stop %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	return false, nil
}

// Delete removes the job row.
func (s *Store) Delete(ctx context.Context, crawlID string) error {
	if _, err := s.pool.Exec(ctx, deleteJobSQL, crawlID); err != nil {
		return fmt.Errorf("delete job %s: %w", crawlID, err)
	}
	return nil
}
