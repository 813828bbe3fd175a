// Package features computes the fixed, versioned technical indicator set
// over an OHLCV frame. The set is a pure function of its input: identical
// input yields bit-identical output (modulo floating point platform noise).
package features

import (
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
)

// CurrentFeatureSetVersion is bumped whenever the indicator set changes,
// invalidating every cached feature frame keyed on the prior version.
const CurrentFeatureSetVersion = 1

// MinBarsForScoring and MinBarsForTraining are the minimum frame lengths
// required before InsufficientHistory is no longer raised. Compute raises
// either to clear the indicator warmup (see MinRequired): SMA200 is
// undefined below 200 bars, so a shorter frame can never emit a row.
const (
	MinBarsForScoring  = 60
	MinBarsForTraining = 252
)

// the longest lookback among the configured indicators; anything before this
// offset into the frame has at least one undefined feature and is dropped.
const warmupBars = 200

// MinRequired is the effective minimum frame length for a given minBars
// floor: whichever is larger, the caller's floor or the first index past the
// indicator warmup.
func MinRequired(minBars int) int {
	if minBars <= warmupBars {
		return warmupBars + 1
	}
	return minBars
}

// Row is one date's full feature vector.
type Row struct {
	Date time.Time

	SMA50, SMA200   float64
	RSI14           float64
	MACD, MACDSignal float64
	BBUpper, BBMid, BBLower float64
	ATR14           float64
	ADX14           float64
	Momentum10      float64
	Momentum30      float64
	Momentum60      float64
	OBV             float64
	VWAP            float64
	WilliamsR       float64
	Volatility      float64 // rolling std of log returns
	SAR             float64 // parabolic SAR, used by the technical rule scorer
	Close           float64
}

// Frame is the per-ticker, per-date feature matrix.
type Frame struct {
	Ticker string
	Rows   []Row
}

// InsufficientHistoryError is raised when a frame has fewer bars than required.
type InsufficientHistoryError struct {
	Ticker   string
	Required int
	Got      int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("features: %s: insufficient history (required=%d, got=%d)", e.Ticker, e.Required, e.Got)
}

// Compute derives the full indicator set from an OHLCV frame.
// minBars should be MinBarsForScoring for the scoring path or
// MinBarsForTraining when building a training dataset.
func Compute(frame *marketdata.Frame, minBars int) (*Frame, error) {
	n := len(frame.Bars)
	if required := MinRequired(minBars); n < required {
		return nil, &InsufficientHistoryError{Ticker: frame.Ticker, Required: required, Got: n}
	}

	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range frame.Bars {
		opens[i], highs[i], lows[i], closes[i], volumes[i] = b.Open, b.High, b.Low, b.Close, b.Volume
	}

	sma50 := talib.Sma(closes, 50)
	sma200 := talib.Sma(closes, 200)
	rsi14 := talib.Rsi(closes, 14)
	macd, macdSignal, _ := talib.Macd(closes, 12, 26, 9)
	bbUpper, bbMid, bbLower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	atr14 := talib.Atr(highs, lows, closes, 14)
	adx14 := talib.Adx(highs, lows, closes, 14)
	mom10 := talib.Mom(closes, 10)
	mom30 := talib.Mom(closes, 30)
	mom60 := talib.Mom(closes, 60)
	obv := talib.Obv(closes, volumes)
	willR := talib.WillR(highs, lows, closes, 14)
	vwap := computeVWAP(frame.Bars)
	logReturns := computeLogReturns(closes)
	sar := talib.Sar(highs, lows, 0.02, 0.2)

	out := &Frame{Ticker: frame.Ticker}
	for i := warmupBars; i < n; i++ {
		vol := 0.0
		if i >= 20 {
			vol = stat.StdDev(logReturns[i-19:i+1], nil)
		}

		row := Row{
			Date:         frame.Bars[i].Date,
			SMA50:        sma50[i],
			SMA200:       sma200[i],
			RSI14:        rsi14[i],
			MACD:         macd[i],
			MACDSignal:   macdSignal[i],
			BBUpper:      bbUpper[i],
			BBMid:        bbMid[i],
			BBLower:      bbLower[i],
			ATR14:        atr14[i],
			ADX14:        adx14[i],
			Momentum10:   mom10[i] / safeDiv(closes[i-10]),
			Momentum30:   mom30[i] / safeDiv(closes[i-30]),
			Momentum60:   mom60[i] / safeDiv(closes[i-60]),
			OBV:          obv[i],
			VWAP:         vwap[i],
			WilliamsR:    willR[i],
			Volatility:   vol,
			SAR:          sar[i],
			Close:        closes[i],
		}

		if hasNaN(row) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}

	if len(out.Rows) == 0 {
		return nil, &InsufficientHistoryError{Ticker: frame.Ticker, Required: MinRequired(minBars), Got: n}
	}

	return out, nil
}

func safeDiv(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// computeVWAP computes a cumulative volume-weighted average price series.
func computeVWAP(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumV float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumV += b.Volume
		if cumV == 0 {
			out[i] = b.Close
			continue
		}
		out[i] = cumPV / cumV
	}
	return out
}

func computeLogReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			out[i] = 0
			continue
		}
		out[i] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

func hasNaN(r Row) bool {
	vals := []float64{
		r.SMA50, r.SMA200, r.RSI14, r.MACD, r.MACDSignal, r.BBUpper, r.BBMid, r.BBLower,
		r.ATR14, r.ADX14, r.Momentum10, r.Momentum30, r.Momentum60, r.OBV, r.VWAP, r.WilliamsR, r.Volatility,
		r.SAR, r.Close,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Latest returns the most recent row, or false if the frame is empty.
func (f *Frame) Latest() (Row, bool) {
	if len(f.Rows) == 0 {
		return Row{}, false
	}
	return f.Rows[len(f.Rows)-1], true
}
