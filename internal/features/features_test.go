package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
)

// syntheticFrame builds a steadily rising OHLCV series with n bars, long
// enough to clear every indicator's warmup window once n is large.
func syntheticFrame(ticker string, n int) *marketdata.Frame {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)*0.25
		bars[i] = marketdata.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   price - 0.1,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price,
			Volume: 1_000_000 + float64(i)*100,
		}
	}
	return &marketdata.Frame{Ticker: ticker, Bars: bars}
}

func TestCompute_RejectsTooFewBars(t *testing.T) {
	frame := syntheticFrame("AAPL", 30)
	_, err := Compute(frame, MinBarsForScoring)
	require.Error(t, err)
	var ih *InsufficientHistoryError
	require.ErrorAs(t, err, &ih)
	assert.Equal(t, 30, ih.Got)
	assert.Equal(t, MinRequired(MinBarsForScoring), ih.Required)
}

func TestCompute_ExactlyMinimumHistoryYieldsNonEmptyFrame(t *testing.T) {
	min := MinRequired(MinBarsForScoring)

	out, err := Compute(syntheticFrame("AAPL", min), MinBarsForScoring)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Rows)

	// One bar fewer must fail with the effective minimum named.
	_, err = Compute(syntheticFrame("AAPL", min-1), MinBarsForScoring)
	var ih *InsufficientHistoryError
	require.ErrorAs(t, err, &ih)
	assert.Equal(t, min, ih.Required)
	assert.Equal(t, min-1, ih.Got)
}

func TestMinRequired_RaisesFloorsBelowWarmup(t *testing.T) {
	assert.Equal(t, warmupBars+1, MinRequired(MinBarsForScoring))
	assert.Equal(t, MinBarsForTraining, MinRequired(MinBarsForTraining))
}

func TestCompute_ProducesRowsOnceWarmupClears(t *testing.T) {
	n := 260
	frame := syntheticFrame("AAPL", n)
	out, err := Compute(frame, MinBarsForTraining)
	require.NoError(t, err)
	require.NotEmpty(t, out.Rows)

	// warmupBars=200 means the first usable index is 200, giving n-200 rows
	// when no individual row is dropped for a NaN/Inf feature.
	assert.LessOrEqual(t, len(out.Rows), n-warmupBars)

	for _, row := range out.Rows {
		assert.False(t, hasNaN(row), "row for %s must not carry NaN/Inf features", row.Date)
	}
}

func TestCompute_RowsAreDateOrderedAndCloseMatchesInput(t *testing.T) {
	n := 260
	frame := syntheticFrame("AAPL", n)
	out, err := Compute(frame, MinBarsForTraining)
	require.NoError(t, err)

	for i := 1; i < len(out.Rows); i++ {
		assert.True(t, out.Rows[i].Date.After(out.Rows[i-1].Date))
	}

	last, ok := out.Latest()
	require.True(t, ok)
	assert.Equal(t, frame.Bars[n-1].Date, last.Date)
	assert.Equal(t, frame.Bars[n-1].Close, last.Close)
}

func TestCompute_TicketSymbolIsPreserved(t *testing.T) {
	frame := syntheticFrame("MSFT", 260)
	out, err := Compute(frame, MinBarsForTraining)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", out.Ticker)
}

func TestLatest_EmptyFrameReturnsFalse(t *testing.T) {
	out := &Frame{Ticker: "AAPL"}
	_, ok := out.Latest()
	assert.False(t, ok)
}

func TestComputeVWAP_CumulativeVolumeWeightedAverage(t *testing.T) {
	bars := []marketdata.Bar{
		{High: 12, Low: 8, Close: 10, Volume: 100},  // typical = 10
		{High: 22, Low: 18, Close: 20, Volume: 100}, // typical = 20
	}
	vwap := computeVWAP(bars)
	require.Len(t, vwap, 2)
	assert.InDelta(t, 10, vwap[0], 1e-9)
	// cumulative: (10*100 + 20*100) / 200 = 15
	assert.InDelta(t, 15, vwap[1], 1e-9)
}

func TestComputeVWAP_ZeroCumulativeVolumeFallsBackToClose(t *testing.T) {
	bars := []marketdata.Bar{{High: 12, Low: 8, Close: 10, Volume: 0}}
	vwap := computeVWAP(bars)
	assert.Equal(t, 10.0, vwap[0])
}

func TestComputeLogReturns_FirstElementIsZero(t *testing.T) {
	closes := []float64{100, 110, 121}
	returns := computeLogReturns(closes)
	require.Len(t, returns, 3)
	assert.Zero(t, returns[0])
	assert.Greater(t, returns[1], 0.0)
	assert.InDelta(t, returns[1], returns[2], 1e-9, "constant 10% growth yields a constant log return")
}

func TestComputeLogReturns_NonPositiveCloseYieldsZero(t *testing.T) {
	closes := []float64{100, 0, 50}
	returns := computeLogReturns(closes)
	assert.Zero(t, returns[1])
	assert.Zero(t, returns[2])
}

func TestSafeDiv_AvoidsDivisionByZero(t *testing.T) {
	assert.Equal(t, 1.0, safeDiv(0))
	assert.Equal(t, 5.0, safeDiv(5))
}

func TestHasNaN_DetectsNaNAndInf(t *testing.T) {
	assert.False(t, hasNaN(Row{SMA50: 1, Close: 100}))
	assert.True(t, hasNaN(Row{SMA50: mathNaN()}))
}

func mathNaN() float64 {
	var zero float64
	return zero / zero
}
