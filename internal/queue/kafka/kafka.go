// Package kafka implements the frontier on a Kafka topic using a consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/queue"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks . MessageReader,MessageWriter

// MessageReader abstracts kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter abstracts kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects brokers, topic, and consumer group.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	// Retry bounds republishing a negatively acknowledged task.
	Retry crawler.RetryPolicy
}

// Frontier publishes tasks to a topic and consumes them through a consumer group.
// Offsets are committed per partition in order, so a crash redelivers every task whose
// processing had not finished.
type Frontier struct {
	reader  MessageReader
	writer  MessageWriter
	commits *commitCoordinator
	retry   crawler.RetryPolicy
	logger  *zap.Logger
}

// New builds a frontier with a kafka-go reader and writer.
func New(cfg Config, logger *zap.Logger) (*Frontier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("frontier.kafka.brokers is required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("frontier.kafka.topic and frontier.kafka.group_id are required")
	}
	readerCfg := kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	}
	if cfg.MinBytes > 0 {
		readerCfg.MinBytes = cfg.MinBytes
	}
	if cfg.MaxBytes > 0 {
		readerCfg.MaxBytes = cfg.MaxBytes
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
	return NewWithClients(kafka.NewReader(readerCfg), writer, cfg.Retry, logger), nil
}

// NewWithClients builds a frontier using custom clients (tests).
func NewWithClients(reader MessageReader, writer MessageWriter, retry crawler.RetryPolicy, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		reader:  reader,
		writer:  writer,
		commits: newCommitCoordinator(reader, logger),
		retry:   retry,
		logger:  logger,
	}
}

// Publish writes the task keyed by crawl id so a job's tasks share a partition.
func (f *Frontier) Publish(ctx context.Context, task crawler.Task) error {
	payload, err := queue.Encode(task)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(task.CrawlID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Consume fetches the next decodable message. Undecodable messages are committed and skipped.
func (f *Frontier) Consume(ctx context.Context) (crawler.Delivery, error) {
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, crawler.ErrFrontierClosed
			}
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}
		f.commits.track(msg)

		task, err := queue.Decode(msg.Value)
		if err != nil {
			f.logger.Warn("dropping undecodable frontier message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			if err := f.commits.complete(ctx, msg); err != nil {
				f.logger.Warn("commit after drop failed", zap.Error(err))
			}
			continue
		}
		return &delivery{frontier: f, msg: msg, task: task}, nil
	}
}

// Close shuts down the reader and writer.
func (f *Frontier) Close() error {
	return errors.Join(f.reader.Close(), f.writer.Close())
}

type delivery struct {
	frontier *Frontier
	msg      kafka.Message
	task     crawler.Task
}

func (d *delivery) Task() crawler.Task { return d.task }

// Ack marks the message processed; its offset commits once every earlier offset has.
func (d *delivery) Ack(ctx context.Context) error {
	return d.frontier.commits.complete(ctx, d.msg)
}

// Nack republishes the task to the tail of the topic, then completes the original.
// When the republish still fails after retries the original offset is released anyway so the
// partition keeps committing; the task is dropped and the error is returned.
func (d *delivery) Nack(ctx context.Context) error {
	pubErr := d.frontier.retry.Do(ctx, func(ctx context.Context) error {
		return d.frontier.Publish(ctx, d.task)
	})
	if pubErr != nil {
		d.frontier.logger.Error("requeue failed, dropping task",
			zap.String("crawl_id", d.task.CrawlID),
			zap.String("url", d.task.URL),
			zap.Int("partition", d.msg.Partition),
			zap.Int64("offset", d.msg.Offset),
			zap.Error(pubErr),
		)
	}
	if err := d.frontier.commits.complete(ctx, d.msg); err != nil {
		return errors.Join(wrapRequeue(pubErr), err)
	}
	return wrapRequeue(pubErr)
}

func wrapRequeue(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("requeue: %w", err)
}
