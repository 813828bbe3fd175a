// Package executor applies a per-ticker function across the universe with a
// bounded worker pool and per-item timeout, isolating one item's failure
// from the rest of the batch.
package executor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
)

// ItemResult captures one item's outcome, including its duration and error
// (if any), so callers can compute per-item metrics and surface failures.
type ItemResult struct {
	Key      string
	Value    interface{}
	Err      error
	Duration time.Duration
}

// Metrics summarizes a Run across the whole batch.
type Metrics struct {
	TotalItems   int
	FailedItems  int
	TotalElapsed time.Duration
}

// Executor runs a per-item function across a set of keys with bounded
// concurrency and per-item timeouts.
type Executor struct {
	workers int
	timeout time.Duration

	inFlight int64 // current number of items executing, for pool saturation reporting
}

// New builds an Executor with workers concurrent slots and a per-item timeout.
func New(workers int, timeout time.Duration) *Executor {
	if workers <= 0 {
		workers = 10
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{workers: workers, timeout: timeout}
}

// Run applies fn to every key in keys, bounded by the executor's worker
// count, isolating each item's failure and timeout from the others.
// Results are returned sorted by key for deterministic downstream ordering.
func (e *Executor) Run(ctx context.Context, keys []string, fn func(ctx context.Context, key string) (interface{}, error)) ([]ItemResult, Metrics) {
	start := time.Now()

	results := make([]ItemResult, len(keys))
	var mu sync.Mutex
	var failed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			atomic.AddInt64(&e.inFlight, 1)
			itemStart := time.Now()
			value, err := fn(itemCtx, key)
			duration := time.Since(itemStart)
			atomic.AddInt64(&e.inFlight, -1)

			mu.Lock()
			results[i] = ItemResult{Key: key, Value: value, Err: err, Duration: duration}
			if err != nil {
				failed++
			}
			mu.Unlock()

			// A single item's error never cancels the group: errgroup would
			// otherwise cancel gctx and abort in-flight siblings, violating
			// per-item isolation. Swallow it here instead.
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })

	return results, Metrics{
		TotalItems:   len(keys),
		FailedItems:  failed,
		TotalElapsed: time.Since(start),
	}
}

// RunSequential is a single sequential fallback path for debugging.
func (e *Executor) RunSequential(ctx context.Context, keys []string, fn func(ctx context.Context, key string) (interface{}, error)) ([]ItemResult, Metrics) {
	start := time.Now()
	results := make([]ItemResult, 0, len(keys))
	failed := 0

	for _, key := range keys {
		itemCtx, cancel := context.WithTimeout(ctx, e.timeout)
		itemStart := time.Now()
		value, err := fn(itemCtx, key)
		cancel()

		if err != nil {
			failed++
		}
		results = append(results, ItemResult{Key: key, Value: value, Err: err, Duration: time.Since(itemStart)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })

	return results, Metrics{TotalItems: len(keys), FailedItems: failed, TotalElapsed: time.Since(start)}
}

// HealthStats is the worker pool's current saturation plus host-wide
// CPU/RAM utilization, surfaced through the retraining_status()/admin
// health surface alongside job state.
type HealthStats struct {
	Workers        int
	TimeoutSeconds float64
	InFlight       int64
	CPUPercent     float64
	MemPercent     float64
}

// Health samples host-wide CPU and memory utilization (100ms sampling window,
// short enough not to stall a status request) alongside the pool's current
// in-flight count.
func (e *Executor) Health() HealthStats {
	stats := HealthStats{
		Workers:        e.workers,
		TimeoutSeconds: e.timeout.Seconds(),
		InFlight:       atomic.LoadInt64(&e.inFlight),
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemPercent = vm.UsedPercent
	}

	return stats
}
