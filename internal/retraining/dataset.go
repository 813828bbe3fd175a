package retraining

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kg90-eg/alloc-sentinel/internal/features"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
)

// FeatureOrder is the fixed, documented order feature vectors are flattened
// in for training and prediction.
var FeatureOrder = []string{
	"sma50", "sma200", "rsi14", "macd", "macd_signal",
	"bb_upper", "bb_mid", "bb_lower", "atr14", "adx14",
	"momentum10", "momentum30", "momentum60", "obv", "vwap", "williams_r", "volatility", "sar",
}

// Vectorize flattens a feature row into FeatureOrder's order.
func Vectorize(r features.Row) []float64 {
	return []float64{
		r.SMA50, r.SMA200, r.RSI14, r.MACD, r.MACDSignal,
		r.BBUpper, r.BBMid, r.BBLower, r.ATR14, r.ADX14,
		r.Momentum10, r.Momentum30, r.Momentum60, r.OBV, r.VWAP, r.WilliamsR, r.Volatility, r.SAR,
	}
}

// Example is one (feature row, label) training pair.
type Example struct {
	Ticker string
	Date   time.Time
	X      []float64
	Y      float64 // 1.0 if future return met or exceeded LabelReturnThreshold, else 0.0
}

// Dataset is a deterministically ordered set of training examples.
type Dataset struct {
	Examples []Example
}

// ForwardWindowDays is the future-return lookahead used to construct the
// binary target; LabelReturnThreshold is the minimum forward return counted
// as a positive label.
const (
	ForwardWindowDays     = 10
	LabelReturnThreshold  = 0.02
)

// BuildDataset fetches history for every ticker in universe, computes
// features, and constructs a binary target from the forward return,
// concatenating into one deterministically ordered training frame.
// Target construction never leaks future
// information into the feature row it is paired with: the label for
// (ticker, date d) is computed strictly from bars after d.
func BuildDataset(ctx context.Context, provider marketdata.Provider, universeTickers []string, years int) (*Dataset, error) {
	period := time.Duration(years) * 365 * 24 * time.Hour

	var ds Dataset
	for _, ticker := range universeTickers {
		frame, err := provider.FetchHistory(ctx, ticker, period)
		if err != nil {
			// Per-ticker dataset failures don't abort the whole build; the
			// ticker is simply absent from the training frame.
			continue
		}

		featFrame, err := features.Compute(frame, features.MinBarsForTraining)
		if err != nil {
			continue
		}

		examples, err := labelRows(ticker, frame, featFrame)
		if err != nil {
			continue
		}
		ds.Examples = append(ds.Examples, examples...)
	}

	if len(ds.Examples) == 0 {
		return nil, fmt.Errorf("retraining: dataset build produced zero examples across %d tickers", len(universeTickers))
	}

	// Forward-chained CV splits on position, so the frame must be globally
	// date-ordered, not per-ticker blocks. Ticker breaks date ties to keep
	// the ordering deterministic.
	sort.SliceStable(ds.Examples, func(i, j int) bool {
		a, b := ds.Examples[i], ds.Examples[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Ticker < b.Ticker
	})

	return &ds, nil
}

// labelRows pairs each feature row with a forward-return label computed
// strictly from bars dated after the feature row's date.
func labelRows(ticker string, frame *marketdata.Frame, featFrame *features.Frame) ([]Example, error) {
	closeByDate := make(map[time.Time]float64, len(frame.Bars))
	dateIndex := make(map[time.Time]int, len(frame.Bars))
	for i, b := range frame.Bars {
		closeByDate[b.Date] = b.Close
		dateIndex[b.Date] = i
	}

	var out []Example
	for _, row := range featFrame.Rows {
		idx, ok := dateIndex[row.Date]
		if !ok {
			continue
		}
		targetIdx := idx + ForwardWindowDays
		if targetIdx >= len(frame.Bars) {
			continue // no forward window available yet; drop the row
		}

		futureClose := frame.Bars[targetIdx].Close
		forwardReturn := (futureClose - row.Close) / row.Close

		label := 0.0
		if forwardReturn >= LabelReturnThreshold {
			label = 1.0
		}

		out = append(out, Example{
			Ticker: ticker,
			Date:   row.Date,
			X:      Vectorize(row),
			Y:      label,
		})
	}
	return out, nil
}
