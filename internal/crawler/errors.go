package crawler

import "errors"

var (
	// ErrJobNotFound is returned when a crawl id has no ledger record.
	ErrJobNotFound = errors.New("no such job")
	// ErrJobExists is returned when a crawl id is already taken.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidRequest marks malformed or missing submission input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrFetchFailed marks a page that could not be fetched or parsed.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrFrontierClosed is returned by a task source that will yield nothing more.
	ErrFrontierClosed = errors.New("frontier closed")
)
