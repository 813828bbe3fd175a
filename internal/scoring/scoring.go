// Package scoring fuses technical, ML, momentum, regime, and bounded
// contextual signals into a single composite score, signal class, and
// allocation cap per ticker.
package scoring

import (
	"math"
	"sort"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	"github.com/kg90-eg/alloc-sentinel/internal/context"
	"github.com/kg90-eg/alloc-sentinel/internal/features"
	"github.com/kg90-eg/alloc-sentinel/internal/regime"
)

// Signal is the discrete class assigned to a composite score.
type Signal string

const (
	SignalStrongBuy         Signal = "STRONG_BUY"
	SignalBuy               Signal = "BUY"
	SignalHold              Signal = "HOLD"
	SignalConsiderSelling   Signal = "CONSIDER_SELLING"
	SignalSell              Signal = "SELL"
)

// Components holds the five weighted score components, each in [0,100]
// before weighting except Context, which is a signed adjustment in [-5,+5].
type Components struct {
	Technical float64
	ML        float64
	Momentum  float64
	Regime    float64
	Context   float64
}

// Factor is one named contribution to the composite score, used for
// top_factors/risk_factors explanation output.
type Factor struct {
	Name         string
	Contribution float64
}

// Breakdown is the full per-ticker scoring result.
type Breakdown struct {
	Ticker          string
	Composite       float64
	RawComposite    float64 // preserved pre-regime-gate value for transparency
	Signal          Signal
	MaxAllocation   float64
	Components      Components
	TopFactors      []Factor
	RiskFactors     []Factor
	RegimeBlocked   bool
}

// Input bundles everything the scorer needs for one ticker at one evaluation.
type Input struct {
	Ticker       string
	Row          features.Row
	MLProbability float64 // model's predicted probability of the positive class, [0,1]
	Regime       *regime.Snapshot
	Context      *context.Record
	AssetClass   config.AssetClass
	AssetTag     string // classification tag surfaced as an explanatory factor (e.g. "high-beta", "defensive")
}

// Scorer computes composite scores from configured weights and thresholds.
type Scorer struct {
	scoring config.ScoringConfig
	signal  config.SignalConfig
	alloc   config.AllocationConfig
	context config.ContextConfig
}

// New builds a Scorer from the loaded configuration.
func New(scoring config.ScoringConfig, signal config.SignalConfig, alloc config.AllocationConfig, ctxCfg config.ContextConfig) *Scorer {
	return &Scorer{scoring: scoring, signal: signal, alloc: alloc, context: ctxCfg}
}

// Score computes the full Breakdown for one ticker.
func (s *Scorer) Score(in Input) Breakdown {
	trending := in.Regime != nil && (in.Regime.Trend == regime.TrendBull || in.Regime.Trend == regime.TrendBear)
	technical, techFactors := s.technicalScore(in.Row, trending)
	ml := clamp(in.MLProbability*100, 0, 100)
	momentum := s.momentumScore(in.Row)
	regimeScore := 50.0
	if in.Regime != nil {
		regimeScore = in.Regime.Composite
	}

	contextAdj := 0.0
	if in.Context != nil {
		contextAdj = clamp(in.Context.Adjustment, -s.maxContext(), s.maxContext())
	}

	raw := s.scoring.WeightTechnical*technical + s.scoring.WeightML*ml +
		s.scoring.WeightMomentum*momentum + s.scoring.WeightRegime*regimeScore + contextAdj
	raw = clamp(raw, 0, 100)

	components := Components{Technical: technical, ML: ml, Momentum: momentum, Regime: regimeScore, Context: contextAdj}

	allFactors := append([]Factor{}, techFactors...)
	allFactors = append(allFactors, tagBoostFactor(in.AssetTag))
	top, risk := splitFactors(allFactors)

	signal := s.classify(raw)
	maxAlloc := s.maxAllocation(signal, in.Regime, in.AssetClass)

	regimeBlocked := false
	if in.Regime != nil && !in.Regime.AllowBuys && (signal == SignalBuy || signal == SignalStrongBuy) {
		signal = SignalHold
		regimeBlocked = true
		maxAlloc = s.maxAllocation(signal, in.Regime, in.AssetClass)
	}

	return Breakdown{
		Ticker:        in.Ticker,
		Composite:     raw,
		RawComposite:  raw,
		Signal:        signal,
		MaxAllocation: maxAlloc,
		Components:    components,
		TopFactors:    top,
		RiskFactors:   risk,
		RegimeBlocked: regimeBlocked,
	}
}

func (s *Scorer) maxContext() float64 {
	if s.context.MaxAdjustment <= 0 {
		return 5.0
	}
	return s.context.MaxAdjustment
}

// technicalScore aggregates RSI zone, MACD cross, Bollinger position, ADX
// strength, and Parabolic SAR direction into a base-50 rule score clipped to
// [0,100]. The rule budget reshapes with the regime trend: in directional
// (BULL/BEAR) regimes the trend-following rules
// (MACD, ADX, SAR) carry 1.25x and the mean-reversion rules (RSI,
// Bollinger) 0.75x; choppy regimes invert the split. The component's
// documented 40% weight in the composite never changes.
func (s *Scorer) technicalScore(r features.Row, trending bool) (float64, []Factor) {
	reversionW, trendW := 1.25, 0.75
	if trending {
		reversionW, trendW = 0.75, 1.25
	}

	score := 50.0
	var factors []Factor

	add := func(name string, delta, w float64) {
		delta *= w
		score += delta
		factors = append(factors, Factor{Name: name, Contribution: delta})
	}

	switch {
	case r.RSI14 < 30:
		add("rsi_oversold", 10, reversionW)
	case r.RSI14 > 70:
		add("rsi_overbought", -10, reversionW)
	default:
		add("rsi_neutral", 0, reversionW)
	}

	if r.MACD > r.MACDSignal {
		add("macd_bullish_cross", 8, trendW)
	} else {
		add("macd_bearish_cross", -8, trendW)
	}

	switch {
	case r.Close <= r.BBLower:
		add("bollinger_lower_band", 8, reversionW)
	case r.Close >= r.BBUpper:
		add("bollinger_upper_band", -8, reversionW)
	default:
		add("bollinger_mid_range", 0, reversionW)
	}

	if r.ADX14 > 25 {
		if r.Close > r.SMA50 {
			add("adx_strong_uptrend", 10, trendW)
		} else {
			add("adx_strong_downtrend", -10, trendW)
		}
	} else {
		add("adx_weak_trend", 0, trendW)
	}

	if r.Close > r.SAR {
		add("sar_bullish", 6, trendW)
	} else {
		add("sar_bearish", -6, trendW)
	}

	return clamp(score, 0, 100), factors
}

// momentumScore blends 10/30/60-day returns into [0,100] via a saturating
// map.
func (s *Scorer) momentumScore(r features.Row) float64 {
	m10 := saturate(r.Momentum10)
	m30 := saturate(r.Momentum30)
	m60 := saturate(r.Momentum60)
	return s.scoring.MomentumWeight10d*m10 + s.scoring.MomentumWeight30d*m30 + s.scoring.MomentumWeight60d*m60
}

func saturate(ret float64) float64 {
	return clamp(50+500*ret, 0, 100)
}

// classify maps a composite score to a Signal per the configured cut-points,
// inclusive lower bounds.
func (s *Scorer) classify(composite float64) Signal {
	switch {
	case composite >= s.signal.StrongBuyMin:
		return SignalStrongBuy
	case composite >= s.signal.BuyMin:
		return SignalBuy
	case composite >= s.signal.HoldMin:
		return SignalHold
	case composite >= s.signal.ConsiderSellingMin:
		return SignalConsiderSelling
	default:
		return SignalSell
	}
}

// maxAllocation returns the per-position allocation ceiling for signal under
// snap's regime class and assetClass.
func (s *Scorer) maxAllocation(signal Signal, snap *regime.Snapshot, assetClass config.AssetClass) float64 {
	if signal != SignalStrongBuy && signal != SignalBuy && signal != SignalHold {
		return 0
	}

	base := map[Signal]float64{
		SignalStrongBuy: s.signal.MaxAllocStrongBuy,
		SignalBuy:       s.signal.MaxAllocBuy,
		SignalHold:      s.signal.MaxAllocHold,
	}[signal]

	if assetClass == config.AssetClassCrypto {
		base /= 2
		// A configured crypto ceiling below the halved equity ceiling wins.
		if s.alloc.PerAssetCryptoRiskOn > 0 && s.alloc.PerAssetCryptoRiskOn < base {
			base = s.alloc.PerAssetCryptoRiskOn
		}
	}

	class := regime.ClassRiskOn
	if snap != nil {
		class = snap.Class
	}
	switch class {
	case regime.ClassNeutral:
		base /= 2
	case regime.ClassRiskOff:
		if signal != SignalHold {
			base = 0
		}
	}

	return base
}

// tagBoostFactor surfaces a security classification tag (e.g. "high-beta")
// as an explanatory factor with zero scoring contribution, never as a
// scoring input outside the bounded context term.
func tagBoostFactor(tag string) Factor {
	if tag == "" {
		return Factor{}
	}
	return Factor{Name: "tag:" + tag, Contribution: 0}
}

// splitFactors orders factors by absolute contribution and returns the top 3
// positive and top 3 negative.
func splitFactors(factors []Factor) (top, risk []Factor) {
	var positive, negative []Factor
	for _, f := range factors {
		if f.Name == "" {
			continue
		}
		if f.Contribution > 0 {
			positive = append(positive, f)
		} else if f.Contribution < 0 {
			negative = append(negative, f)
		}
	}

	sort.Slice(positive, func(i, j int) bool { return positive[i].Contribution > positive[j].Contribution })
	sort.Slice(negative, func(i, j int) bool { return math.Abs(negative[i].Contribution) > math.Abs(negative[j].Contribution) })

	if len(positive) > 3 {
		positive = positive[:3]
	}
	if len(negative) > 3 {
		negative = negative[:3]
	}
	return positive, negative
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
