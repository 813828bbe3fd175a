package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	historyFn func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error)
	macroFn   func(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error)
	currentFn func(ctx context.Context, ticker string) (float64, error)
}

func (f *fakeSource) History(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
	return f.historyFn(ctx, ticker, period)
}
func (f *fakeSource) Macro(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error) {
	return f.macroFn(ctx, seriesID, period)
}
func (f *fakeSource) Current(ctx context.Context, ticker string) (float64, error) {
	return f.currentFn(ctx, ticker)
}

func freshBars(n int) []Bar {
	bars := make([]Bar, n)
	start := time.Now().Add(-time.Duration(n) * 24 * time.Hour)
	for i := 0; i < n; i++ {
		bars[i] = Bar{Date: start.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 1000 + float64(i)}
	}
	return bars
}

func TestFetchHistory_ValidFrameReturned(t *testing.T) {
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		return freshBars(10), nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	frame, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", frame.Ticker)
	assert.Len(t, frame.Bars, 10)
}

func TestFetchHistory_QualityFailureOnNonMonotonicDates(t *testing.T) {
	bars := freshBars(5)
	bars[2].Date = bars[0].Date // break monotonicity
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		return bars, nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	_, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindQualityFailed, fe.Kind)
	assert.Equal(t, "monotonic_dates", fe.Predicate)
}

func TestFetchHistory_QualityFailureOnStaleDuplicateCloses(t *testing.T) {
	bars := freshBars(5)
	for i := len(bars) - 3; i < len(bars); i++ {
		bars[i].Close = 150
		bars[i].Volume = 500
	}
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		return bars, nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	_, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "stale_duplicate_close", fe.Predicate)
}

func TestFetchHistory_EmptyFrameFailsQuality(t *testing.T) {
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		return nil, nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	_, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "non_empty", fe.Predicate)
}

func TestFetchHistory_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		calls++
		if calls < 2 {
			return nil, &FetchError{Kind: KindTransient, Err: errors.New("timeout")}
		}
		return freshBars(10), nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	frame, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, frame)
	assert.Equal(t, 2, calls)
}

func TestFetchHistory_PermanentFailureStopsImmediatelyAndMarksDelisted(t *testing.T) {
	calls := 0
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		calls++
		return nil, &FetchError{Kind: KindPermanentlyUnavailable, Ticker: "DEAD"}
	}}
	a := NewAdapter(source, 5, zerolog.Nop())

	_, err := a.FetchHistory(context.Background(), "DEAD", 30*24*time.Hour)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent failure must not be retried")

	// A second call for the same ticker must short-circuit without touching the source.
	_, err = a.FetchHistory(context.Background(), "DEAD", 30*24*time.Hour)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "delisted ticker must short-circuit without a network call")
}

func TestFetchHistory_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	source := &fakeSource{historyFn: func(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
		return nil, &FetchError{Kind: KindTransient, Err: errors.New("always fails")}
	}}
	a := NewAdapter(source, 2, zerolog.Nop())

	_, err := a.FetchHistory(context.Background(), "AAPL", 30*24*time.Hour)
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindTransient, fe.Kind)
}

func TestFetchCurrent_ReturnsQuoteWithTimestamp(t *testing.T) {
	source := &fakeSource{currentFn: func(ctx context.Context, ticker string) (float64, error) {
		return 123.45, nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	q, err := a.FetchCurrent(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Ticker)
	assert.Equal(t, 123.45, q.Price)
	assert.WithinDuration(t, time.Now(), q.Timestamp, time.Second)
}

func TestFetchMacro_PassesThroughPoints(t *testing.T) {
	source := &fakeSource{macroFn: func(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error) {
		return []SeriesPoint{{Date: time.Now(), Value: 18.5}}, nil
	}}
	a := NewAdapter(source, 3, zerolog.Nop())

	points, err := a.FetchMacro(context.Background(), "VIX", 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 18.5, points[0].Value)
}
