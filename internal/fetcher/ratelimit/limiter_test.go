package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
}

func (c *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	c.calls.Add(1)
	return []byte("ok"), nil
}

func TestFetcherThrottlesSameHost(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	// 10 RPS = one token every 100ms after the initial burst of 1.
	f := New(next, Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	_, err := f.Fetch(ctx, "https://test.com/news?p=1")
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(ctx, "https://test.com/item?id=1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.EqualValues(t, 2, next.calls.Load())
}

func TestFetcherHostsAreIndependent(t *testing.T) {
	t.Parallel()

	f := New(&countingFetcher{}, Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	_, err := f.Fetch(ctx, "https://a.com/1")
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(ctx, "https://b.com/1")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFetcherDisabledByDefault(t *testing.T) {
	t.Parallel()

	f := New(&countingFetcher{}, Config{})
	start := time.Now()
	for range 50 {
		_, err := f.Fetch(context.Background(), "https://a.com/1")
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFetcherWaitHonorsContext(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := New(next, Config{DefaultRPS: 0.1, DefaultBurst: 1})
	_, err := f.Fetch(context.Background(), "https://a.com/1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, "https://a.com/2")
	require.ErrorContains(t, err, "rate limit wait")
	require.EqualValues(t, 1, next.calls.Load())
}
