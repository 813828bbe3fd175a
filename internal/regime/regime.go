// Package regime classifies the overall market environment into a risk
// state that gates downstream scoring decisions.
package regime

import (
	"context"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	"github.com/kg90-eg/alloc-sentinel/internal/marketdata"
)

// VolatilityLevel buckets the current volatility index reading.
type VolatilityLevel string

const (
	VolLow     VolatilityLevel = "LOW"
	VolMedium  VolatilityLevel = "MEDIUM"
	VolHigh    VolatilityLevel = "HIGH"
	VolExtreme VolatilityLevel = "EXTREME"
)

// Trend buckets the benchmark index's moving-average posture.
type Trend string

const (
	TrendBull    Trend = "BULL"
	TrendNeutral Trend = "NEUTRAL"
	TrendBear    Trend = "BEAR"
)

// Class is the regime's overall risk classification.
type Class string

const (
	ClassRiskOn  Class = "RISK_ON"
	ClassNeutral Class = "NEUTRAL"
	ClassRiskOff Class = "RISK_OFF"
)

// Snapshot is the regime detector's output.
type Snapshot struct {
	VolatilityLevel VolatilityLevel
	Trend           Trend
	Composite       float64 // [0,100]
	Class           Class
	AllowBuys       bool
	Timestamp       time.Time
	Stale           bool
	Degraded        bool

	VIXLevel        float64
	BenchmarkClose  float64
	BenchmarkMA50   float64
	BenchmarkMA200  float64
}

// ErrRegimeUnavailable is returned when macro inputs are missing beyond the
// grace window and no prior snapshot can be served.
type ErrRegimeUnavailable struct{}

func (e *ErrRegimeUnavailable) Error() string { return "regime: unavailable" }

// Detector produces and caches regime snapshots.
type Detector struct {
	cfg      config.RegimeConfig
	provider marketdata.Provider
	vixSeriesID, benchmarkTicker string
	log      zerolog.Logger

	mu       sync.Mutex
	last     *Snapshot
	lastGood time.Time
}

// NewDetector builds a Detector reading the volatility index series vixSeriesID
// and the benchmark index benchmarkTicker from provider.
func NewDetector(cfg config.RegimeConfig, provider marketdata.Provider, vixSeriesID, benchmarkTicker string, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:             cfg,
		provider:        provider,
		vixSeriesID:     vixSeriesID,
		benchmarkTicker: benchmarkTicker,
		log:             log.With().Str("component", "regime").Logger(),
	}
}

// Snapshot returns the current regime snapshot, using the short-TTL cache and
// falling back to the last known-good snapshot (marked stale) within a grace
// window on upstream failure.
func (d *Detector) Snapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	if d.last != nil && time.Since(d.last.Timestamp) < d.cfg.SnapshotTTL {
		snap := *d.last
		d.mu.Unlock()
		return &snap, nil
	}
	d.mu.Unlock()

	snap, err := d.compute(ctx)
	if err != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.last != nil && time.Since(d.lastGood) < d.cfg.StaleGrace {
			stale := *d.last
			stale.Stale = true
			d.log.Warn().Err(err).Msg("serving stale regime snapshot within grace window")
			return &stale, nil
		}
		return nil, &ErrRegimeUnavailable{}
	}

	d.mu.Lock()
	d.last = snap
	d.lastGood = time.Now()
	d.mu.Unlock()

	return snap, nil
}

func (d *Detector) compute(ctx context.Context) (*Snapshot, error) {
	vixSeries, err := d.provider.FetchMacro(ctx, d.vixSeriesID, 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	if len(vixSeries) == 0 {
		return nil, &ErrRegimeUnavailable{}
	}
	vixLevel := vixSeries[len(vixSeries)-1].Value

	// 400 calendar days comfortably covers the 200 trading bars MA200 needs.
	benchmark, err := d.provider.FetchHistory(ctx, d.benchmarkTicker, 400*24*time.Hour)
	if err != nil {
		return nil, err
	}
	if len(benchmark.Bars) < 200 {
		return nil, &ErrRegimeUnavailable{}
	}

	closes := make([]float64, len(benchmark.Bars))
	for i, b := range benchmark.Bars {
		closes[i] = b.Close
	}
	ma50 := talib.Sma(closes, 50)
	ma200 := talib.Sma(closes, 200)
	last := len(closes) - 1
	close, m50, m200 := closes[last], ma50[last], ma200[last]

	volLevel := classifyVolatility(vixLevel, d.cfg)
	trend := classifyTrend(close, m50, m200)
	composite := compositeScore(volLevel, trend, d.cfg)
	class := classifyComposite(composite, d.cfg)

	return &Snapshot{
		VolatilityLevel: volLevel,
		Trend:           trend,
		Composite:       composite,
		Class:           class,
		AllowBuys:       class == ClassRiskOn,
		Timestamp:       time.Now(),
		VIXLevel:        vixLevel,
		BenchmarkClose:  close,
		BenchmarkMA50:   m50,
		BenchmarkMA200:  m200,
	}, nil
}

func classifyVolatility(vix float64, cfg config.RegimeConfig) VolatilityLevel {
	switch {
	case vix < cfg.VIXLowMax:
		return VolLow
	case vix < cfg.VIXMediumMax:
		return VolMedium
	case vix < cfg.VIXHighMax:
		return VolHigh
	default:
		return VolExtreme
	}
}

func classifyTrend(close, ma50, ma200 float64) Trend {
	switch {
	case close > ma50 && ma50 > ma200:
		return TrendBull
	case close < ma50 && ma50 < ma200:
		return TrendBear
	default:
		return TrendNeutral
	}
}

// volScore maps a volatility level to a monotone decreasing score in [0,100]
// (lower volatility -> higher score). trendScore maps trend to a monotone
// increasing score in [0,100]. The composite blends them per the configured
// weights (Open Question 1, resolved: 60/40 vol/trend split by default).
func compositeScore(vol VolatilityLevel, trend Trend, cfg config.RegimeConfig) float64 {
	volScore := map[VolatilityLevel]float64{
		VolLow:     100,
		VolMedium:  65,
		VolHigh:    30,
		VolExtreme: 0,
	}[vol]

	trendScore := map[Trend]float64{
		TrendBull:    100,
		TrendNeutral: 50,
		TrendBear:    0,
	}[trend]

	composite := cfg.VolWeight*volScore + cfg.TrendWeight*trendScore
	if composite < 0 {
		composite = 0
	}
	if composite > 100 {
		composite = 100
	}
	return composite
}

func classifyComposite(composite float64, cfg config.RegimeConfig) Class {
	switch {
	case composite >= cfg.CompositeRiskOnMin:
		return ClassRiskOn
	case composite >= cfg.CompositeNeutralMin:
		return ClassNeutral
	default:
		return ClassRiskOff
	}
}

// Neutral returns the fallback snapshot used when RegimeUnavailable persists
// beyond the grace window: scoring proceeds with the regime component fixed
// at 50 and the snapshot marked degraded.
func Neutral() *Snapshot {
	return &Snapshot{
		VolatilityLevel: VolMedium,
		Trend:           TrendNeutral,
		Composite:       50,
		Class:           ClassNeutral,
		AllowBuys:       false,
		Timestamp:       time.Now(),
		Degraded:        true,
	}
}
