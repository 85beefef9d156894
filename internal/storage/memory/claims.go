package memory

import (
	"context"
	"sync"
)

// Claims is an in-process dedup gate.
type Claims struct {
	mu     sync.Mutex
	claims map[string]map[string]struct{}
}

// NewClaims constructs an empty claim set.
func NewClaims() *Claims {
	return &Claims{claims: make(map[string]map[string]struct{})}
}

// Admit claims url for crawlID. Only the first caller for a pair gets true.
func (c *Claims) Admit(_ context.Context, crawlID, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.claims[crawlID]
	if !ok {
		set = make(map[string]struct{})
		c.claims[crawlID] = set
	}
	if _, taken := set[url]; taken {
		return false, nil
	}
	set[url] = struct{}{}
	return true, nil
}

// Count returns how many URLs are claimed for crawlID.
func (c *Claims) Count(crawlID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims[crawlID])
}

// Claimed reports whether url has been admitted for crawlID.
func (c *Claims) Claimed(crawlID, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claims[crawlID][url]
	return ok
}
