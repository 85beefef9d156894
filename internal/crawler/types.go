package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the ledger.
const (
	JobStatusActive  JobStatus = "active"
	JobStatusStopped JobStatus = "stopped"
)

// StopReason names the limit that made a job terminal.
type StopReason string

// Stop reasons persisted in the ledger. StopReasonNone is only valid while the job is active.
const (
	StopReasonNone        StopReason = "none"
	StopReasonMaxURLs     StopReason = "max_urls"
	StopReasonMaxDistance StopReason = "max_distance"
	StopReasonTimeout     StopReason = "timeout"
)

// Valid reports whether r is one of the known stop reasons.
func (r StopReason) Valid() bool {
	switch r {
	case StopReasonNone, StopReasonMaxURLs, StopReasonMaxDistance, StopReasonTimeout:
		return true
	default:
		return false
	}
}

// Limits bound a crawl job. They travel with every task so a consumer can apply
// distance and time bounds without a second lookup.
type Limits struct {
	MaxDistance int `json:"maxDistance"`
	MaxSeconds  int `json:"maxSeconds"`
	MaxURLs     int `json:"maxUrls"`
}

// Job is the ledger record for one crawl.
type Job struct {
	ID              string
	RootURL         string
	ScopeDomain     string
	Limits          Limits
	StartTime       time.Time
	LastModified    time.Time
	NumPages        uint64
	MaxDistanceSeen int
	StopReason      StopReason
	Status          JobStatus
}

// Stopped reports whether the job has reached a terminal state.
func (j Job) Stopped() bool {
	return j.Status == JobStatusStopped
}

// NewJob builds an active job with zeroed counters.
func NewJob(id, rootURL, scope string, limits Limits, now time.Time) Job {
	return Job{
		ID:           id,
		RootURL:      rootURL,
		ScopeDomain:  scope,
		Limits:       limits,
		StartTime:    now,
		LastModified: now,
		StopReason:   StopReasonNone,
		Status:       JobStatusActive,
	}
}

// Task is a unit of dispatch on the frontier. The wire shape is flat:
// {crawlId, url, distance, maxDistance, maxSeconds, maxUrls}.
type Task struct {
	CrawlID  string `json:"crawlId"`
	URL      string `json:"url"`
	Distance int    `json:"distance"`
	Limits
}

// Status is the read projection served to clients.
type Status struct {
	CrawlID      string     `json:"crawlId"`
	RootURL      string     `json:"rootUrl"`
	Status       JobStatus  `json:"status"`
	Distance     int        `json:"distance"`
	StartTime    time.Time  `json:"startTime"`
	LastModified time.Time  `json:"lastModified"`
	StopReason   StopReason `json:"stopReason"`
	NumPages     uint64     `json:"numPages"`
	Limits       Limits     `json:"limits"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	CrawlID  string
	URL      string
	Distance int
	Headers  http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}
