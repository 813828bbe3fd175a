package featurecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet_RoundTrip(t *testing.T) {
	c := New(time.Minute, 10)
	key := Key{Ticker: "AAPL", Period: 24 * time.Hour, FeatureSetVersion: 1}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, 42)
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	c := New(time.Millisecond, 10)
	key := Key{Ticker: "AAPL", FeatureSetVersion: 1}
	c.Set(key, "stale")

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry must be evicted on access")
}

func TestSet_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	k1 := Key{Ticker: "A", FeatureSetVersion: 1}
	k2 := Key{Ticker: "B", FeatureSetVersion: 1}
	k3 := Key{Ticker: "C", FeatureSetVersion: 1}

	c.Set(k1, 1)
	c.Set(k2, 2)
	c.Get(k1) // touch k1, making k2 the LRU entry
	c.Set(k3, 3)

	_, ok := c.Get(k2)
	assert.False(t, ok, "k2 should have been evicted as least recently used")

	_, ok = c.Get(k1)
	assert.True(t, ok)
	_, ok = c.Get(k3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestInvalidateVersion_DropsOnlyStaleVersions(t *testing.T) {
	c := New(time.Minute, 10)
	current := Key{Ticker: "AAPL", FeatureSetVersion: 2}
	stale := Key{Ticker: "MSFT", FeatureSetVersion: 1}
	c.Set(current, "new")
	c.Set(stale, "old")

	c.InvalidateVersion(2)

	_, ok := c.Get(current)
	assert.True(t, ok)
	_, ok = c.Get(stale)
	assert.False(t, ok)
}

func TestGetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c := New(time.Minute, 10)
	key := Key{Ticker: "AAPL", FeatureSetVersion: 1}

	var calls int64
	compute := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "computed", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), key, compute)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "concurrent callers must coalesce onto a single compute")
	for _, r := range results {
		assert.Equal(t, "computed", r)
	}
}

func TestGetOrCompute_PropagatesComputeError(t *testing.T) {
	c := New(time.Minute, 10)
	key := Key{Ticker: "AAPL", FeatureSetVersion: 1}
	boom := assertErr

	_, err := c.GetOrCompute(context.Background(), key, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := c.Get(key)
	assert.False(t, ok, "failed compute must not populate the cache")
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "compute failed" }
