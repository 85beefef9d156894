package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy bounds retries of transient infrastructure calls.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs op with exponential backoff until it succeeds, the retries are exhausted, or ctx
// is done. ErrJobNotFound, ErrJobExists and ErrFrontierClosed are returned as-is without retrying.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	expBackoff := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		expBackoff.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		expBackoff.MaxInterval = p.MaxInterval
	}
	expBackoff.MaxElapsedTime = 0

	var base backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		base = backoff.WithMaxRetries(expBackoff, uint64(p.MaxRetries))
	}
	policy := backoff.WithContext(base, ctx)

	var terminal error
	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			terminal = err
			return nil
		}
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}
	return terminal
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrJobExists), errors.Is(err, ErrFrontierClosed):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
