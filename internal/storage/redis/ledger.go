// Package redis stores the job ledger and claim sets in Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

const (
	fieldRootURL         = "root_url"
	fieldScopeDomain     = "scope_domain"
	fieldMaxDistance     = "max_distance"
	fieldMaxSeconds      = "max_seconds"
	fieldMaxURLs         = "max_urls"
	fieldStartTime       = "start_time"
	fieldLastModified    = "last_modified"
	fieldNumPages        = "num_pages"
	fieldMaxDistanceSeen = "max_distance_seen"
	fieldStopReason      = "stop_reason"
	fieldStatus          = "status"
)

// Ledger keeps one hash per job. Timestamps are stored as unix microseconds so they stay
// exact inside Lua's double-precision numbers.
type Ledger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewLedger wraps client. A positive ttl expires job hashes after creation.
func NewLedger(client redis.UniversalClient, prefix string, ttl time.Duration) *Ledger {
	return &Ledger{client: client, prefix: prefix, ttl: ttl}
}

func (l *Ledger) key(crawlID string) string {
	return l.prefix + "job:" + crawlID
}

// Create writes the job hash if the id is free.
func (l *Ledger) Create(ctx context.Context, job crawler.Job) error {
	args := []any{
		l.ttl.Milliseconds(),
		fieldRootURL, job.RootURL,
		fieldScopeDomain, job.ScopeDomain,
		fieldMaxDistance, job.Limits.MaxDistance,
		fieldMaxSeconds, job.Limits.MaxSeconds,
		fieldMaxURLs, job.Limits.MaxURLs,
		fieldStartTime, job.StartTime.UnixMicro(),
		fieldLastModified, job.LastModified.UnixMicro(),
		fieldNumPages, job.NumPages,
		fieldMaxDistanceSeen, job.MaxDistanceSeen,
		fieldStopReason, string(job.StopReason),
		fieldStatus, string(job.Status),
	}
	created, err := createScript.Run(ctx, l.client, []string{l.key(job.ID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis create %s: %w", job.ID, err)
	}
	if created == 0 {
		return fmt.Errorf("create %s: %w", job.ID, crawler.ErrJobExists)
	}
	return nil
}

// Read loads the job hash.
func (l *Ledger) Read(ctx context.Context, crawlID string) (crawler.Job, error) {
	fields, err := l.client.HGetAll(ctx, l.key(crawlID)).Result()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("redis read %s: %w", crawlID, err)
	}
	if len(fields) == 0 {
		return crawler.Job{}, fmt.Errorf("read %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	job, err := decodeJob(crawlID, fields)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("decode %s: %w", crawlID, err)
	}
	return job, nil
}

// IncrementPages runs HINCRBY on num_pages.
func (l *Ledger) IncrementPages(ctx context.Context, crawlID string) (uint64, error) {
	n, err := incrementScript.Run(ctx, l.client, []string{l.key(crawlID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", crawlID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("increment %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	return uint64(n), nil
}

// Touch raises last_modified to at.
func (l *Ledger) Touch(ctx context.Context, crawlID string, at time.Time) error {
	return l.raise(ctx, crawlID, fieldLastModified, at.UnixMicro())
}

// ObserveDistance raises max_distance_seen to distance.
func (l *Ledger) ObserveDistance(ctx context.Context, crawlID string, distance int) error {
	return l.raise(ctx, crawlID, fieldMaxDistanceSeen, int64(distance))
}

func (l *Ledger) raise(ctx context.Context, crawlID, field string, value int64) error {
	n, err := raiseScript.Run(ctx, l.client, []string{l.key(crawlID)}, field, value).Int64()
	if err != nil {
		return fmt.Errorf("redis raise %s %s: %w", field, crawlID, err)
	}
	if n < 0 {
		return fmt.Errorf("raise %s %s: %w", field, crawlID, crawler.ErrJobNotFound)
	}
	return nil
}

// TryStop flips status from active to stopped with reason.
func (l *Ledger) TryStop(ctx context.Context, crawlID string, reason crawler.StopReason) (bool, error) {
	n, err := tryStopScript.Run(ctx, l.client, []string{l.key(crawlID)},
		string(crawler.JobStatusActive), string(crawler.JobStatusStopped), string(reason)).Int64()
	if err != nil {
		return false, fmt.Errorf("redis try stop %s: %w", crawlID, err)
	}
	if n < 0 {
		return false, fmt.Errorf("try stop %s: %w", crawlID, crawler.ErrJobNotFound)
	}
	return n == 1, nil
}

// Delete removes the job hash.
func (l *Ledger) Delete(ctx context.Context, crawlID string) error {
	if err := l.client.Del(ctx, l.key(crawlID)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", crawlID, err)
	}
	return nil
}

func decodeJob(crawlID string, fields map[string]string) (crawler.Job, error) {
	job := crawler.Job{
		ID:          crawlID,
		RootURL:     fields[fieldRootURL],
		ScopeDomain: fields[fieldScopeDomain],
		StopReason:  crawler.StopReason(fields[fieldStopReason]),
		Status:      crawler.JobStatus(fields[fieldStatus]),
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{fieldMaxDistance, &job.Limits.MaxDistance},
		{fieldMaxSeconds, &job.Limits.MaxSeconds},
		{fieldMaxURLs, &job.Limits.MaxURLs},
		{fieldMaxDistanceSeen, &job.MaxDistanceSeen},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(fields[f.field])
		if err != nil {
			return crawler.Job{}, fmt.Errorf("field %s: %w", f.field, err)
		}
		*f.dst = v
	}

	pages, err := strconv.ParseUint(fields[fieldNumPages], 10, 64)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("field %s: %w", fieldNumPages, err)
	}
	job.NumPages = pages

	if job.StartTime, err = parseMicros(fields[fieldStartTime]); err != nil {
		return crawler.Job{}, fmt.Errorf("field %s: %w", fieldStartTime, err)
	}
	if job.LastModified, err = parseMicros(fields[fieldLastModified]); err != nil {
		return crawler.Job{}, fmt.Errorf("field %s: %w", fieldLastModified, err)
	}
	return job, nil
}

func parseMicros(raw string) (time.Time, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(v).UTC(), nil
}
