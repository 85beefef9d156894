// Package memory provides an in-process frontier for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// ErrQueueFull is returned by Publish when a bounded queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// Queue is a FIFO frontier. Workers both consume from and publish to it, so Publish never
// blocks; a positive capacity rejects publishes instead.
type Queue struct {
	mu       sync.Mutex
	items    []crawler.Task
	capacity int
	inFlight int
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

// NewQueue constructs a queue. A capacity of zero means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Publish appends a task.
func (q *Queue) Publish(ctx context.Context, task crawler.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.ErrFrontierClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, task)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Consume pops the next task, respecting context cancellation. Once the queue is closed
// and drained it returns crawler.ErrFrontierClosed.
func (q *Queue) Consume(ctx context.Context) (crawler.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			task := q.items[0]
			q.items[0] = crawler.Task{}
			q.items = q.items[1:]
			q.inFlight++
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return &delivery{queue: q, task: task}, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, crawler.ErrFrontierClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("consume canceled: %w", ctx.Err())
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is queued and every consumed task has been settled.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inFlight == 0
}

// Close stops accepting publishes. Consumers drain what is left.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) settle(requeue *crawler.Task) {
	q.mu.Lock()
	q.inFlight--
	if requeue != nil && !q.closed {
		q.items = append(q.items, *requeue)
	}
	q.mu.Unlock()
	if requeue != nil {
		q.signal()
	}
}

type delivery struct {
	queue *Queue
	task  crawler.Task
	once  sync.Once
}

func (d *delivery) Task() crawler.Task { return d.task }

// Ack settles the delivery.
func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() { d.queue.settle(nil) })
	return nil
}

// Nack puts the task back at the tail of the queue.
func (d *delivery) Nack(context.Context) error {
	d.once.Do(func() { d.queue.settle(&d.task) })
	return nil
}
