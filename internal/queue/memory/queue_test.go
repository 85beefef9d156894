package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

func task(url string) crawler.Task {
	return crawler.Task{CrawlID: "abc123", URL: url, Limits: crawler.Limits{MaxDistance: 1, MaxSeconds: 10, MaxURLs: 10}}
}

func TestQueuePublishConsume(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	result := make(chan crawler.Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		d, err := q.Consume(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- d
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	require.NoError(t, q.Publish(context.Background(), task("https://example.com/")))

	select {
	case err := <-errCh:
		t.Fatalf("Consume() error = %v", err)
	case d := <-result:
		require.Equal(t, "https://example.com/", d.Task().URL)
		require.False(t, q.Idle())
		require.NoError(t, d.Ack(context.Background()))
		require.True(t, q.Idle())
	case <-time.After(time.Second):
		t.Fatal("consume did not return task")
	}
}

func TestQueueNackRequeues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	require.NoError(t, q.Publish(ctx, task("https://example.com/a")))
	require.NoError(t, q.Publish(ctx, task("https://example.com/b")))

	first, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Nack(ctx))
	require.NoError(t, first.Nack(ctx), "second settle is a no-op")
	require.Equal(t, 2, q.Len())

	second, err := q.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/b", second.Task().URL)
	require.NoError(t, second.Ack(ctx))

	again, err := q.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", again.Task().URL)
	require.NoError(t, again.Ack(ctx))
	require.True(t, q.Idle())
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Publish(context.Background(), task("https://example.com/a")))
	require.ErrorIs(t, q.Publish(context.Background(), task("https://example.com/b")), ErrQueueFull)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Consume(ctx)
	require.EqualError(t, err, "consume canceled: context canceled")
	require.EqualError(t, q.Publish(ctx, task("https://example.com/")), "publish canceled: context canceled")
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	require.NoError(t, q.Publish(ctx, task("https://example.com/")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Publish(ctx, task("https://example.com/x")), crawler.ErrFrontierClosed)
	d, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack(ctx))

	_, err = q.Consume(ctx)
	require.True(t, errors.Is(err, crawler.ErrFrontierClosed))
}
