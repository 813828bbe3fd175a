package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ResultsSortedByKeyAndValuesPreserved(t *testing.T) {
	e := New(4, time.Second)
	keys := []string{"c", "a", "b"}

	results, metrics := e.Run(context.Background(), keys, func(ctx context.Context, key string) (interface{}, error) {
		return key + "-value", nil
	})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].Key, results[1].Key, results[2].Key})
	assert.Equal(t, "a-value", results[0].Value)
	assert.Equal(t, 0, metrics.FailedItems)
	assert.Equal(t, 3, metrics.TotalItems)
}

func TestRun_OneItemFailureDoesNotAbortSiblings(t *testing.T) {
	e := New(4, time.Second)
	keys := []string{"good1", "bad", "good2"}

	results, metrics := e.Run(context.Background(), keys, func(ctx context.Context, key string) (interface{}, error) {
		if key == "bad" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})

	assert.Equal(t, 1, metrics.FailedItems)
	for _, r := range results {
		if r.Key == "bad" {
			assert.Error(t, r.Err)
		} else {
			assert.NoError(t, r.Err)
			assert.Equal(t, "ok", r.Value)
		}
	}
}

func TestRun_RespectsWorkerLimit(t *testing.T) {
	e := New(2, time.Second)
	keys := []string{"a", "b", "c", "d", "e", "f"}

	var current, max int64
	_, _ = e.Run(context.Background(), keys, func(ctx context.Context, key string) (interface{}, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&max)
			if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&max), int64(2))
}

func TestRunSequential_ExecutesOneAtATimeAndSorts(t *testing.T) {
	e := New(4, time.Second)
	var order []string

	results, metrics := e.RunSequential(context.Background(), []string{"b", "a"}, func(ctx context.Context, key string) (interface{}, error) {
		order = append(order, key)
		return nil, nil
	})

	assert.Equal(t, []string{"b", "a"}, order, "sequential execution preserves input order internally")
	assert.Equal(t, []string{"a", "b"}, []string{results[0].Key, results[1].Key}, "output is sorted by key")
	assert.Equal(t, 2, metrics.TotalItems)
}

func TestHealth_ReportsWorkersAndTimeout(t *testing.T) {
	e := New(8, 3*time.Second)
	h := e.Health()

	assert.Equal(t, 8, h.Workers)
	assert.Equal(t, 3.0, h.TimeoutSeconds)
	assert.Zero(t, h.InFlight)
}

func TestNew_AppliesDefaults(t *testing.T) {
	e := New(0, 0)
	assert.Equal(t, 10, e.workers)
	assert.Equal(t, 5*time.Second, e.timeout)
}
