package regime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
)

func testConfig() config.RegimeConfig {
	return config.RegimeConfig{
		VIXLowMax: 15, VIXMediumMax: 20, VIXHighMax: 30,
		CompositeRiskOnMin: 70, CompositeNeutralMin: 40,
		VolWeight: 0.60, TrendWeight: 0.40,
		SnapshotTTL: 5 * time.Minute, StaleGrace: 30 * time.Minute,
	}
}

func TestClassifyVolatility_BucketBoundaries(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, VolLow, classifyVolatility(14.99, cfg))
	// VIX exactly at threshold falls into the higher bucket.
	assert.Equal(t, VolMedium, classifyVolatility(15.0, cfg))
	assert.Equal(t, VolMedium, classifyVolatility(19.99, cfg))
	assert.Equal(t, VolHigh, classifyVolatility(20.0, cfg))
	assert.Equal(t, VolHigh, classifyVolatility(29.99, cfg))
	assert.Equal(t, VolExtreme, classifyVolatility(30.0, cfg))
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, TrendBull, classifyTrend(110, 105, 100))
	assert.Equal(t, TrendBear, classifyTrend(90, 95, 100))
	assert.Equal(t, TrendNeutral, classifyTrend(100, 105, 100))
}

func TestCompositeScore_MonotoneInEachInput(t *testing.T) {
	cfg := testConfig()
	low := compositeScore(VolExtreme, TrendBear, cfg)
	mid := compositeScore(VolMedium, TrendNeutral, cfg)
	high := compositeScore(VolLow, TrendBull, cfg)

	assert.Less(t, low, mid)
	assert.Less(t, mid, high)
	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, high, 100.0)
}

func TestClassifyComposite_BoundaryInclusive(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, ClassRiskOn, classifyComposite(70, cfg))
	assert.Equal(t, ClassNeutral, classifyComposite(69.999, cfg))
	assert.Equal(t, ClassNeutral, classifyComposite(40, cfg))
	assert.Equal(t, ClassRiskOff, classifyComposite(39.999, cfg))
}

// fakeProvider is a minimal marketdata.Provider stub for detector tests.
type fakeProvider struct {
	macro     []marketdata.SeriesPoint
	macroErr  error
	benchmark *marketdata.Frame
	benchErr  error
}

func (f *fakeProvider) FetchHistory(ctx context.Context, ticker string, period time.Duration) (*marketdata.Frame, error) {
	return f.benchmark, f.benchErr
}
func (f *fakeProvider) FetchMacro(ctx context.Context, seriesID string, period time.Duration) ([]marketdata.SeriesPoint, error) {
	return f.macro, f.macroErr
}
func (f *fakeProvider) FetchCurrent(ctx context.Context, ticker string) (*marketdata.Quote, error) {
	return nil, nil
}

func benchmarkFrame(n int, trendUp bool) *marketdata.Frame {
	bars := make([]marketdata.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		if trendUp {
			price += 0.5
		} else {
			price -= 0.5
		}
		bars[i] = marketdata.Bar{Date: base.AddDate(0, 0, i), Close: price, Open: price, High: price, Low: price, Volume: 1000}
	}
	return &marketdata.Frame{Ticker: "SPX", Bars: bars}
}

func TestDetector_Snapshot_CachesWithinTTL(t *testing.T) {
	provider := &fakeProvider{
		macro:     []marketdata.SeriesPoint{{Value: 12}},
		benchmark: benchmarkFrame(250, true),
	}
	d := NewDetector(testConfig(), provider, "VIX", "SPX", zerolog.Nop())

	a, err := d.Snapshot(context.Background())
	require.NoError(t, err)

	provider.macro = nil // would break a second live compute
	b, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Composite, b.Composite, "second call within TTL must not recompute")
}

func TestDetector_Snapshot_StaleOnFailureWithinGrace(t *testing.T) {
	provider := &fakeProvider{
		macro:     []marketdata.SeriesPoint{{Value: 12}},
		benchmark: benchmarkFrame(250, true),
	}
	cfg := testConfig()
	cfg.SnapshotTTL = 0 // force recompute on every call
	d := NewDetector(cfg, provider, "VIX", "SPX", zerolog.Nop())

	_, err := d.Snapshot(context.Background())
	require.NoError(t, err)

	provider.macroErr = assertError
	snap, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Stale)
}

var assertError = &marketdata.FetchError{Kind: marketdata.KindTransient}
