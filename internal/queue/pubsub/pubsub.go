// Package pubsub implements the frontier on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/queue"
)

// Config selects the project, topic, and subscription.
type Config struct {
	ProjectID      string
	Topic          string
	Subscription   string
	MaxOutstanding int
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// topicPublisher waits for the server id so publish failures reach the caller.
type topicPublisher struct {
	publisher *pubsub.Publisher
}

func (p topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return p.publisher.Publish(ctx, msg).Get(ctx)
}

// Frontier publishes tasks to a topic and hands received messages to workers.
// A message stays outstanding (unacked) until the worker settles its delivery.
type Frontier struct {
	client     *pubsub.Client
	topic      *pubsub.Publisher
	publisher  publisher
	receiver   receiver
	deliveries chan *delivery
	logger     *zap.Logger
}

// New connects a client using Application Default Credentials unless opts say otherwise.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Frontier, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("frontier.pubsub project_id, topic and subscription are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Publisher(cfg.Topic)
	sub := client.Subscriber(cfg.Subscription)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	f := newFrontier(topicPublisher{publisher: topic}, sub, logger)
	f.client = client
	f.topic = topic
	return f, nil
}

func newFrontier(pub publisher, recv receiver, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		publisher:  pub,
		receiver:   recv,
		deliveries: make(chan *delivery),
		logger:     logger,
	}
}

// Publish sends the task and waits for the server to accept it.
func (f *Frontier) Publish(ctx context.Context, task crawler.Task) error {
	data, err := queue.Encode(task)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"crawl_id": task.CrawlID},
	}
	if _, err := f.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

// Start receives messages until ctx is canceled. Consume only yields tasks while Start runs.
func (f *Frontier) Start(ctx context.Context) error {
	defer close(f.deliveries)
	err := f.receiver.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		f.handle(ctx, m.Data, m.Ack, m.Nack)
	})
	if err != nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// handle blocks the receive callback until a worker settles the delivery, which keeps the
// message outstanding and lets flow control bound in-flight work.
func (f *Frontier) handle(ctx context.Context, data []byte, ack, nack func()) {
	task, err := queue.Decode(data)
	if err != nil {
		f.logger.Warn("dropping undecodable frontier message", zap.Error(err))
		ack()
		return
	}
	d := &delivery{task: task, ack: ack, nack: nack, done: make(chan struct{})}
	select {
	case f.deliveries <- d:
	case <-ctx.Done():
		nack()
		return
	}
	select {
	case <-d.done:
	case <-ctx.Done():
	}
}

// Consume waits for the next received task.
func (f *Frontier) Consume(ctx context.Context) (crawler.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("consume canceled: %w", ctx.Err())
	case d, ok := <-f.deliveries:
		if !ok {
			return nil, crawler.ErrFrontierClosed
		}
		return d, nil
	}
}

// Close flushes the publisher and closes the client.
func (f *Frontier) Close() error {
	if f.topic != nil {
		f.topic.Stop()
	}
	if f.client != nil {
		if err := f.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

type delivery struct {
	task crawler.Task
	ack  func()
	nack func()
	once sync.Once
	done chan struct{}
}

func (d *delivery) Task() crawler.Task { return d.task }

func (d *delivery) Ack(context.Context) error {
	d.settle(d.ack)
	return nil
}

func (d *delivery) Nack(context.Context) error {
	d.settle(d.nack)
	return nil
}

func (d *delivery) settle(fn func()) {
	d.once.Do(func() {
		fn()
		close(d.done)
	})
}
