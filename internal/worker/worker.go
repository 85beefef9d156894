// Package worker implements the crawl expansion loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/metrics"
	"github.com/JakeFAU/crawl-coordinator/internal/telemetry"
)

// Outcome labels how a task was settled.
type Outcome string

// Task outcomes, also used as metric labels.
const (
	OutcomeExpanded          Outcome = "expanded"
	OutcomeFetchFailed       Outcome = "fetch_failed"
	OutcomeDiscardedUnknown  Outcome = "discarded_unknown"
	OutcomeDiscardedStopped  Outcome = "discarded_stopped"
	OutcomeDiscardedDistance Outcome = "discarded_distance"
	OutcomeRequeued          Outcome = "requeued"
)

// Config controls Worker behavior.
type Config struct {
	FetchTimeout time.Duration
	Retry        crawler.RetryPolicy
	// ConsumeBackoff is the pause after a failed consume before trying again.
	ConsumeBackoff time.Duration
}

// Worker consumes frontier tasks and expands them.
type Worker struct {
	id       int
	source   crawler.TaskSource
	frontier crawler.Frontier
	ledger   crawler.Ledger
	gate     crawler.DedupGate
	fetcher  crawler.Fetcher
	links    crawler.LinkExtractor
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	source crawler.TaskSource,
	frontier crawler.Frontier,
	ledger crawler.Ledger,
	gate crawler.DedupGate,
	fetcher crawler.Fetcher,
	links crawler.LinkExtractor,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ConsumeBackoff <= 0 {
		cfg.ConsumeBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		source:   source,
		frontier: frontier,
		ledger:   ledger,
		gate:     gate,
		fetcher:  fetcher,
		links:    links,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the context finishes or the frontier closes.
// No single task failure stops the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrFrontierClosed) {
				return
			}
			w.logger.Error("frontier consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ConsumeBackoff):
			}
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery crawler.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	task := delivery.Task()
	outcome, err := w.Process(ctx, task)

	// Settle even when ctx is already canceled so the transport sees the result.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		outcome = OutcomeRequeued
		w.logger.Warn("task requeued",
			zap.String("crawl_id", task.CrawlID),
			zap.String("url", task.URL),
			zap.Int("distance", task.Distance),
			zap.Error(err),
		)
		if nackErr := delivery.Nack(settleCtx); nackErr != nil {
			w.logger.Error("nack failed", zap.String("crawl_id", task.CrawlID), zap.Error(nackErr))
		}
	} else if ackErr := delivery.Ack(settleCtx); ackErr != nil {
		w.logger.Error("ack failed", zap.String("crawl_id", task.CrawlID), zap.Error(ackErr))
	}
	metrics.ObserveTask(string(outcome), time.Since(start))
}

// Process runs one task through the expansion state machine. A non-nil error means an
// infrastructure call failed after retries and the task should be redelivered.
func (w *Worker) Process(ctx context.Context, task crawler.Task) (outcome Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "worker.process",
		attribute.String("crawl.id", task.CrawlID),
		attribute.String("url.full", task.URL),
		attribute.Int("crawl.distance", task.Distance),
	)
	defer func() {
		span.SetAttributes(attribute.String("crawl.outcome", string(outcome)))
		telemetry.EndSpan(span, err)
	}()
	return w.process(ctx, task)
}

func (w *Worker) process(ctx context.Context, task crawler.Task) (Outcome, error) {
	logger := w.logger.With(
		zap.String("crawl_id", task.CrawlID),
		zap.String("url", task.URL),
		zap.Int("distance", task.Distance),
	)

	var job crawler.Job
	err := w.retry(ctx, func(ctx context.Context) error {
		var readErr error
		job, readErr = w.ledger.Read(ctx, task.CrawlID)
		return readErr
	})
	if errors.Is(err, crawler.ErrJobNotFound) {
		logger.Warn("discarding task for unknown job")
		return OutcomeDiscardedUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("read job: %w", err)
	}
	if job.Stopped() {
		logger.Debug("discarding task for stopped job", zap.String("stop_reason", string(job.StopReason)))
		return OutcomeDiscardedStopped, nil
	}
	if task.Distance > task.MaxDistance {
		logger.Warn("discarding task beyond max distance", zap.Int("max_distance", task.MaxDistance))
		return OutcomeDiscardedDistance, nil
	}

	resp, hrefs, err := w.fetch(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("fetch interrupted: %w", ctx.Err())
		}
		logger.Info("fetch failed", zap.Error(err))
		if err := w.touch(ctx, task.CrawlID); err != nil {
			return "", err
		}
		return OutcomeFetchFailed, nil
	}

	var pages uint64
	err = w.retry(ctx, func(ctx context.Context) error {
		var incErr error
		pages, incErr = w.ledger.IncrementPages(ctx, task.CrawlID)
		return incErr
	})
	if err != nil {
		return "", fmt.Errorf("increment pages: %w", err)
	}
	if err := w.touch(ctx, task.CrawlID); err != nil {
		return "", err
	}
	err = w.retry(ctx, func(ctx context.Context) error {
		return w.ledger.ObserveDistance(ctx, task.CrawlID, task.Distance)
	})
	if err != nil {
		return "", fmt.Errorf("observe distance: %w", err)
	}
	metrics.ObservePageFetched(task.URL)

	if task.Distance+1 <= task.MaxDistance {
		if err := w.expand(ctx, logger, job, task, resp, hrefs); err != nil {
			return "", err
		}
	}

	job.NumPages = pages
	if reason, stop := crawler.Evaluate(job, task, w.clock.Now()); stop {
		var won bool
		err := w.retry(ctx, func(ctx context.Context) error {
			var stopErr error
			won, stopErr = w.ledger.TryStop(ctx, task.CrawlID, reason)
			return stopErr
		})
		if err != nil {
			return "", fmt.Errorf("try stop: %w", err)
		}
		if won {
			metrics.ObserveJobStopped(string(reason))
			logger.Info("job stopped", zap.String("stop_reason", string(reason)), zap.Uint64("num_pages", pages))
		}
	}
	return OutcomeExpanded, nil
}

func (w *Worker) fetch(ctx context.Context, task crawler.Task) (crawler.FetchResponse, []string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	req := crawler.FetchRequest{CrawlID: task.CrawlID, URL: task.URL, Distance: task.Distance}
	resp, err := w.fetcher.Fetch(fetchCtx, req)
	if err != nil {
		return crawler.FetchResponse{}, nil, err
	}
	hrefs, err := w.links.Extract(resp)
	if err != nil {
		return crawler.FetchResponse{}, nil, err
	}
	return resp, hrefs, nil
}

// expand admits in-scope links and publishes a child task for each one admitted.
// A child that is admitted but cannot be published is lost: its claim already exists, so a
// redelivery would not admit it again.
func (w *Worker) expand(
	ctx context.Context,
	logger *zap.Logger,
	job crawler.Job,
	task crawler.Task,
	resp crawler.FetchResponse,
	hrefs []string,
) error {
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		if base, err = url.Parse(task.URL); err != nil {
			logger.Warn("unparseable page url, skipping links", zap.Error(err))
			return nil
		}
	}

	seen := make(map[string]struct{}, len(hrefs))
	for _, href := range hrefs {
		link, err := crawler.ResolveLink(base, href, job.ScopeDomain)
		if err != nil {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		var admitted bool
		err = w.retry(ctx, func(ctx context.Context) error {
			var admitErr error
			admitted, admitErr = w.gate.Admit(ctx, task.CrawlID, link)
			return admitErr
		})
		if err != nil {
			return fmt.Errorf("admit %s: %w", link, err)
		}
		metrics.ObserveAdmission(admitted)
		if !admitted {
			continue
		}

		child := crawler.Task{
			CrawlID:  task.CrawlID,
			URL:      link,
			Distance: task.Distance + 1,
			Limits:   task.Limits,
		}
		err = w.retry(ctx, func(ctx context.Context) error {
			return w.frontier.Publish(ctx, child)
		})
		if err != nil {
			metrics.ObserveChildLost()
			logger.Error("child task lost after admission", zap.String("child_url", link), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) touch(ctx context.Context, crawlID string) error {
	err := w.retry(ctx, func(ctx context.Context) error {
		return w.ledger.Touch(ctx, crawlID, w.clock.Now())
	})
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

func (w *Worker) retry(ctx context.Context, op func(ctx context.Context) error) error {
	return w.cfg.Retry.Do(ctx, op)
}
