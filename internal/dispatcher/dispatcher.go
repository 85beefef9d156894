// Package dispatcher manages worker fan-out over the frontier.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/queue"
	"github.com/JakeFAU/crawl-coordinator/internal/worker"
)

// Dispatcher fans out frontier work to a pool of workers and publishes tasks from intake.
type Dispatcher struct {
	frontier crawler.Frontier
	workers  []*worker.Worker
	retry    crawler.RetryPolicy
}

// New creates a Dispatcher.
func New(frontier crawler.Frontier, workers []*worker.Worker, retry crawler.RetryPolicy) *Dispatcher {
	return &Dispatcher{
		frontier: frontier,
		workers:  workers,
		retry:    retry,
	}
}

// Run starts all workers and blocks until every one of them has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Publish validates task and sends it to the frontier, retrying transient failures.
func (d *Dispatcher) Publish(ctx context.Context, task crawler.Task) error {
	if err := queue.Validate(task); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrInvalidRequest, err)
	}
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		return d.frontier.Publish(ctx, task)
	})
	if err != nil {
		return fmt.Errorf("frontier publish: %w", err)
	}
	return nil
}
