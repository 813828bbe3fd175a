// Package marketdata fetches OHLCV history, current quotes, and macro series
// (volatility index, benchmark index) from an external market data source,
// retrying transient failures with jittered exponential backoff.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Bar is one daily OHLCV observation.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Frame is an ordered sequence of daily bars for one ticker.
type Frame struct {
	Ticker string
	Bars   []Bar
}

// SeriesPoint is one observation of a macro time series (e.g. VIX level).
type SeriesPoint struct {
	Date  time.Time
	Value float64
}

// Quote is a current snapshot price for a ticker.
type Quote struct {
	Ticker    string
	Price     float64
	Timestamp time.Time
}

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind string

const (
	KindTransient             FetchErrorKind = "transient"
	KindPermanentlyUnavailable FetchErrorKind = "permanently_unavailable"
	KindQualityFailed          FetchErrorKind = "quality_failed"
)

// FetchError is the typed error returned by every Provider method.
type FetchError struct {
	Kind      FetchErrorKind
	Ticker    string
	Predicate string // populated for KindQualityFailed
	Err       error
}

func (e *FetchError) Error() string {
	if e.Predicate != "" {
		return fmt.Sprintf("marketdata: %s (%s): predicate %q failed", e.Ticker, e.Kind, e.Predicate)
	}
	if e.Err != nil {
		return fmt.Sprintf("marketdata: %s (%s): %v", e.Ticker, e.Kind, e.Err)
	}
	return fmt.Sprintf("marketdata: %s (%s)", e.Ticker, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Provider is the contract the rest of the system depends on.
type Provider interface {
	FetchHistory(ctx context.Context, ticker string, period time.Duration) (*Frame, error)
	FetchMacro(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error)
	FetchCurrent(ctx context.Context, ticker string) (*Quote, error)
}

// HTTPSource abstracts the upstream wire call so Adapter can be unit tested
// without a live HTTP dependency; a production implementation wraps a real
// quote vendor's REST API behind this interface.
type HTTPSource interface {
	History(ctx context.Context, ticker string, period time.Duration) ([]Bar, error)
	Macro(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error)
	Current(ctx context.Context, ticker string) (float64, error)
}

// delistedSet tracks symbols known to be permanently unavailable within a
// single pipeline run, so they are not retried.
type delistedSet struct {
	m map[string]bool
}

func newDelistedSet() *delistedSet { return &delistedSet{m: make(map[string]bool)} }

func (d *delistedSet) mark(ticker string)      { d.m[ticker] = true }
func (d *delistedSet) isMarked(t string) bool { return d.m[t] }

// Adapter implements Provider with retry/backoff and the data-quality gate.
type Adapter struct {
	source     HTTPSource
	retryMax   int
	log        zerolog.Logger
	delisted   *delistedSet
}

// NewAdapter builds an Adapter around an HTTPSource. retryMax bounds the
// number of attempts for retryable failures.
func NewAdapter(source HTTPSource, retryMax int, log zerolog.Logger) *Adapter {
	if retryMax <= 0 {
		retryMax = 5
	}
	return &Adapter{
		source:   source,
		retryMax: retryMax,
		log:      log.With().Str("component", "marketdata").Logger(),
		delisted: newDelistedSet(),
	}
}

// FetchHistory fetches and quality-gates an OHLCV frame.
func (a *Adapter) FetchHistory(ctx context.Context, ticker string, period time.Duration) (*Frame, error) {
	if a.delisted.isMarked(ticker) {
		return nil, &FetchError{Kind: KindPermanentlyUnavailable, Ticker: ticker}
	}

	var bars []Bar
	err := a.withRetry(ctx, ticker, func() error {
		b, err := a.source.History(ctx, ticker, period)
		if err != nil {
			return err
		}
		bars = b
		return nil
	})
	if err != nil {
		var fe *FetchError
		if asFetchError(err, &fe) && fe.Kind == KindPermanentlyUnavailable {
			a.delisted.mark(ticker)
		}
		return nil, err
	}

	if err := validateQuality(bars); err != nil {
		var fe *FetchError
		if asFetchError(err, &fe) {
			fe.Ticker = ticker
		}
		return nil, err
	}

	return &Frame{Ticker: ticker, Bars: bars}, nil
}

// FetchMacro fetches a macro time series (e.g. volatility index, benchmark index).
func (a *Adapter) FetchMacro(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error) {
	var points []SeriesPoint
	err := a.withRetry(ctx, seriesID, func() error {
		p, err := a.source.Macro(ctx, seriesID, period)
		if err != nil {
			return err
		}
		points = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// FetchCurrent fetches the current quote for a ticker.
func (a *Adapter) FetchCurrent(ctx context.Context, ticker string) (*Quote, error) {
	if a.delisted.isMarked(ticker) {
		return nil, &FetchError{Kind: KindPermanentlyUnavailable, Ticker: ticker}
	}

	var price float64
	err := a.withRetry(ctx, ticker, func() error {
		p, err := a.source.Current(ctx, ticker)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Quote{Ticker: ticker, Price: price, Timestamp: time.Now()}, nil
}

// withRetry applies jittered exponential backoff over fn, up to a.retryMax
// attempts, stopping immediately on a permanent failure.
func (a *Adapter) withRetry(ctx context.Context, key string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < a.retryMax; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}

		var fe *FetchError
		if asFetchError(err, &fe) && fe.Kind == KindPermanentlyUnavailable {
			return err
		}

		lastErr = err
		wait := retryablehttp.DefaultBackoff(1*time.Second, 30*time.Second, attempt, nil)
		wait += time.Duration(rand.Int63n(int64(wait)/2 + 1)) // up to +50% jitter
		a.log.Debug().Str("key", key).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying market data fetch")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &FetchError{Kind: KindTransient, Ticker: key, Err: fmt.Errorf("exhausted %d attempts: %w", a.retryMax, lastErr)}
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if ok {
		*target = fe
	}
	return ok
}

// validateQuality applies the data-quality gate: monotonic dates, no
// stale duplicate closes on non-zero-volume bars, non-negative volumes, and
// freshness.
func validateQuality(bars []Bar) error {
	if len(bars) == 0 {
		return &FetchError{Kind: KindQualityFailed, Predicate: "non_empty"}
	}

	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return &FetchError{Kind: KindQualityFailed, Predicate: "monotonic_dates"}
		}
	}

	for _, b := range bars {
		if b.Volume < 0 {
			return &FetchError{Kind: KindQualityFailed, Predicate: "non_negative_volume"}
		}
	}

	if err := checkStaleDuplicateCloses(bars); err != nil {
		return err
	}

	last := bars[len(bars)-1]
	if time.Since(last.Date) > 3*24*time.Hour*7/5 { // approx 3 trading days
		return &FetchError{Kind: KindQualityFailed, Predicate: "freshness"}
	}

	return nil
}

// checkStaleDuplicateCloses detects the known upstream mapping bug where the
// tail of a series repeats an identical close for >=3 consecutive bars with
// non-zero volume (a sign the feed is returning stale cached prices).
func checkStaleDuplicateCloses(bars []Bar) error {
	if len(bars) < 3 {
		return nil
	}

	tail := bars[len(bars)-3:]
	allSame := true
	for i := 1; i < len(tail); i++ {
		if math.Abs(tail[i].Close-tail[0].Close) > 1e-9 || tail[i].Volume == 0 {
			allSame = false
			break
		}
	}
	if allSame && tail[0].Volume != 0 {
		return &FetchError{Kind: KindQualityFailed, Predicate: "stale_duplicate_close"}
	}
	return nil
}

// NewRetryableHTTPClient constructs a production-ready retryablehttp.Client
// for HTTPSource implementations that call a real upstream REST API.
func NewRetryableHTTPClient(retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		return wait + time.Duration(rand.Int63n(int64(wait)/2+1)) // up to +50% jitter
	}
	client.Logger = nil
	client.HTTPClient.Timeout = 15 * time.Second
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return client
}
