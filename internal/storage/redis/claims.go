package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims is a dedup gate backed by one Redis set per job.
type Claims struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClaims wraps client. A positive ttl is refreshed on every admission.
func NewClaims(client redis.UniversalClient, prefix string, ttl time.Duration) *Claims {
	return &Claims{client: client, prefix: prefix, ttl: ttl}
}

func (c *Claims) key(crawlID string) string {
	return c.prefix + "claims:" + crawlID
}

// Admit adds url to the job's set. SADD reports 1 only to the caller that inserted it.
func (c *Claims) Admit(ctx context.Context, crawlID, url string) (bool, error) {
	key := c.key(crawlID)
	if c.ttl <= 0 {
		added, err := c.client.SAdd(ctx, key, url).Result()
		if err != nil {
			return false, fmt.Errorf("redis admit %s: %w", crawlID, err)
		}
		return added == 1, nil
	}

	var added *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, url)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis admit %s: %w", crawlID, err)
	}
	return added.Val() == 1, nil
}

// Count returns the number of URLs claimed for crawlID.
func (c *Claims) Count(ctx context.Context, crawlID string) (int64, error) {
	n, err := c.client.SCard(ctx, c.key(crawlID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count %s: %w", crawlID, err)
	}
	return n, nil
}
