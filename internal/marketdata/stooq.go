package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// StooqSource is an HTTPSource backed by Stooq's free daily-bar CSV feed.
// It requires no API key, which keeps the composition root free of
// vendor-specific secrets for the reference deployment; swapping in a paid
// vendor only requires a different HTTPSource implementation.
type StooqSource struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewStooqSource builds a StooqSource using the package's standard
// retryable HTTP client configuration (NewRetryableHTTPClient).
func NewStooqSource(retryMax int) *StooqSource {
	return &StooqSource{
		client:  NewRetryableHTTPClient(retryMax),
		baseURL: "https://stooq.com",
	}
}

// History fetches daily OHLCV bars for ticker over the trailing period.
func (s *StooqSource) History(ctx context.Context, ticker string, period time.Duration) ([]Bar, error) {
	url := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", s.baseURL, stooqSymbol(ticker))
	rows, err := s.fetchCSV(ctx, url)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-period)
	var bars []Bar
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil || date.Before(cutoff) {
			continue
		}
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		close, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		bars = append(bars, Bar{Date: date, Open: open, High: high, Low: low, Close: close, Volume: volume})
	}
	return bars, nil
}

// Macro fetches a macro series (e.g. the VIX) from the same daily-bar feed,
// reducing it to close-only points.
func (s *StooqSource) Macro(ctx context.Context, seriesID string, period time.Duration) ([]SeriesPoint, error) {
	bars, err := s.History(ctx, seriesID, period)
	if err != nil {
		return nil, err
	}
	points := make([]SeriesPoint, len(bars))
	for i, b := range bars {
		points[i] = SeriesPoint{Date: b.Date, Value: b.Close}
	}
	return points, nil
}

// Current fetches the latest traded price via Stooq's lightweight quote feed.
func (s *StooqSource) Current(ctx context.Context, ticker string) (float64, error) {
	url := fmt.Sprintf("%s/q/l/?s=%s&f=sd2t2ohlcv&h&e=csv", s.baseURL, stooqSymbol(ticker))
	rows, err := s.fetchCSV(ctx, url)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) < 7 {
		return 0, &FetchError{Kind: KindTransient, Ticker: ticker, Err: fmt.Errorf("stooq: empty quote response")}
	}
	return strconv.ParseFloat(rows[0][6], 64) // Symbol,Date,Time,Open,High,Low,Close,Volume
}

func (s *StooqSource) fetchCSV(ctx context.Context, url string) ([][]string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &FetchError{Kind: KindPermanentlyUnavailable, Err: fmt.Errorf("stooq: %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: KindTransient, Err: fmt.Errorf("stooq: unexpected status %d", resp.StatusCode)}
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: err}
	}
	if len(all) <= 1 {
		return nil, nil // header only, or empty (delisted/unknown symbol)
	}
	return all[1:], nil // drop header row
}

// stooqSymbol maps an internal ticker to Stooq's symbol convention: lowercase
// with a ".us" suffix for bare US equities, crypto pairs collapsed ("BTC-USD"
// -> "btcusd"), while symbols that already carry an exchange suffix (".sw")
// or a macro-index caret ("^vix") pass through.
func stooqSymbol(ticker string) string {
	lower := strings.ToLower(ticker)
	if strings.HasPrefix(lower, "^") || strings.Contains(lower, ".") {
		return lower
	}
	if strings.HasSuffix(lower, "-usd") {
		return strings.ReplaceAll(lower, "-", "")
	}
	return lower + ".us"
}
