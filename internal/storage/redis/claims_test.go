package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimsAdmitOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newTestClient(t)
	claims := NewClaims(client, "test:", 0)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := claims.Admit(ctx, "abc123", "https://example.com/x")
			require.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), admitted.Load())

	n, err := claims.Count(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestClaimsTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, client := newTestClient(t)
	claims := NewClaims(client, "test:", time.Minute)

	ok, err := claims.Admit(ctx, "abc123", "https://example.com/")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = claims.Admit(ctx, "abc123", "https://example.com/")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Minute, srv.TTL("test:claims:abc123"))
}
