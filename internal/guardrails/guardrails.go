// Package guardrails validates proposed portfolio allocations against
// regime-adjusted allocation limits.
package guardrails

import (
	"sort"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
	"github.com/kg90-eg/alloc-sentinel/internal/regime"
)

// ViolationKind identifies which check failed.
type ViolationKind string

const (
	ViolationPerAssetCap    ViolationKind = "per_asset_cap"
	ViolationAssetClassCap  ViolationKind = "asset_class_cap"
	ViolationCashFloor      ViolationKind = "cash_floor"
	ViolationSanity         ViolationKind = "sanity"
	ViolationConcentration  ViolationKind = "concentration"
)

// Violation describes one failing guardrail check.
type Violation struct {
	Kind     ViolationKind
	Ticker   string // empty for portfolio-level violations
	Limit    float64
	Proposed float64
	Message  string
}

// Entry is one (ticker, fraction) pair in a proposal.
type Entry struct {
	Ticker     string
	Fraction   float64
	AssetClass config.AssetClass
}

// Proposal is a candidate allocation: a list of entries plus total portfolio
// value. Never persisted by the core.
type Proposal struct {
	Entries      []Entry
	PortfolioValue float64
}

// Result is the Guardrail Engine's validation outcome.
type Result struct {
	Valid      bool
	Violations []Violation
	Suggested  *Proposal
}

// Engine validates proposals against the configured allocation caps.
type Engine struct {
	cfg config.AllocationConfig
}

// New builds an Engine from the loaded allocation configuration.
func New(cfg config.AllocationConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Validate runs every check against proposal under snap's regime
// class, returning a Result with every failing Violation and, where
// possible, a Suggested allocation that clips violations to their caps.
func (e *Engine) Validate(proposal Proposal, snap *regime.Snapshot) Result {
	class := regime.ClassRiskOn
	if snap != nil {
		class = snap.Class
	}

	var violations []Violation

	sum := 0.0
	for _, entry := range proposal.Entries {
		if entry.Fraction < 0 {
			violations = append(violations, Violation{
				Kind: ViolationSanity, Ticker: entry.Ticker, Proposed: entry.Fraction,
				Message: "fraction must be non-negative",
			})
		}
		sum += entry.Fraction
	}
	if sum > 1.0 {
		violations = append(violations, Violation{
			Kind: ViolationSanity, Limit: 1.0, Proposed: sum,
			Message: "sum of fractions exceeds 1.0",
		})
	}

	perAssetCaps := e.perAssetCaps(class)
	var equitySum, cryptoSum float64
	for _, entry := range proposal.Entries {
		cap := perAssetCaps[entry.AssetClass]
		if entry.Fraction > cap {
			violations = append(violations, Violation{
				Kind: ViolationPerAssetCap, Ticker: entry.Ticker, Limit: cap, Proposed: entry.Fraction,
				Message: "position exceeds per-asset allocation cap",
			})
		}
		if e.cfg.MaxPositionWeight > 0 && entry.Fraction > e.cfg.MaxPositionWeight {
			violations = append(violations, Violation{
				Kind: ViolationConcentration, Ticker: entry.Ticker, Limit: e.cfg.MaxPositionWeight, Proposed: entry.Fraction,
				Message: "position exceeds maximum concentration weight",
			})
		}

		switch entry.AssetClass {
		case config.AssetClassCrypto:
			cryptoSum += entry.Fraction
		default:
			equitySum += entry.Fraction
		}
	}

	equityCap, cryptoCap := e.classCaps(class)
	if equitySum > equityCap {
		violations = append(violations, Violation{
			Kind: ViolationAssetClassCap, Limit: equityCap, Proposed: equitySum,
			Message: "equity allocation exceeds asset-class cap",
		})
	}
	if cryptoSum > cryptoCap {
		violations = append(violations, Violation{
			Kind: ViolationAssetClassCap, Limit: cryptoCap, Proposed: cryptoSum,
			Message: "crypto allocation exceeds asset-class cap",
		})
	}

	cashFloor := e.cashFloor(class)
	cashFraction := 1 - sum
	if cashFraction < cashFloor-1e-9 { // tolerance: a proposal landing exactly on the floor passes
		violations = append(violations, Violation{
			Kind: ViolationCashFloor, Limit: cashFloor, Proposed: cashFraction,
			Message: "cash reserve falls below regime-adjusted floor",
		})
	}

	result := Result{Valid: len(violations) == 0, Violations: violations}
	if len(violations) > 0 {
		result.Suggested = e.suggest(proposal, perAssetCaps, equityCap, cryptoCap)
	}
	return result
}

func (e *Engine) perAssetCaps(class regime.Class) map[config.AssetClass]float64 {
	equity, crypto := e.cfg.PerAssetEquityRiskOn, e.cfg.PerAssetCryptoRiskOn
	switch class {
	case regime.ClassNeutral:
		equity, crypto = equity/2, crypto/2
	case regime.ClassRiskOff:
		equity, crypto = e.cfg.PerAssetEquityRiskOff, e.cfg.PerAssetCryptoRiskOff
	}
	return map[config.AssetClass]float64{
		config.AssetClassEquity: equity,
		config.AssetClassCrypto: crypto,
	}
}

func (e *Engine) classCaps(class regime.Class) (equity, crypto float64) {
	switch class {
	case regime.ClassRiskOn:
		return e.cfg.ClassEquityRiskOnMax, e.cfg.ClassCryptoRiskOnMax
	case regime.ClassNeutral:
		return e.cfg.ClassEquityRiskOnMax / 2, e.cfg.ClassCryptoRiskOnMax / 2
	default:
		return e.cfg.ClassEquityRiskOffMax, e.cfg.ClassCryptoRiskOffMax
	}
}

func (e *Engine) cashFloor(class regime.Class) float64 {
	switch class {
	case regime.ClassRiskOn:
		return e.cfg.CashFloorRiskOn
	case regime.ClassNeutral:
		return (e.cfg.CashFloorRiskOn + e.cfg.CashFloorRiskOff) / 2
	default:
		return e.cfg.CashFloorRiskOff
	}
}

// suggest clips each violating fraction to its per-asset and concentration
// caps; if clipping alone cannot satisfy class caps, the suggestion
// preserves ratios within each over-cap class and scales it down. Fractions
// are never scaled up, and the cash floor is not re-checked.
func (e *Engine) suggest(proposal Proposal, perAssetCaps map[config.AssetClass]float64, equityCap, cryptoCap float64) *Proposal {
	clipped := make([]Entry, len(proposal.Entries))
	copy(clipped, proposal.Entries)

	for i, entry := range clipped {
		cap := perAssetCaps[entry.AssetClass]
		if cap > 0 && entry.Fraction > cap {
			clipped[i].Fraction = cap
		}
		if e.cfg.MaxPositionWeight > 0 && clipped[i].Fraction > e.cfg.MaxPositionWeight {
			clipped[i].Fraction = e.cfg.MaxPositionWeight
		}
	}

	var equitySum, cryptoSum float64
	for _, entry := range clipped {
		if entry.AssetClass == config.AssetClassCrypto {
			cryptoSum += entry.Fraction
		} else {
			equitySum += entry.Fraction
		}
	}

	scaleAssetClass(clipped, config.AssetClassEquity, equitySum, equityCap)
	scaleAssetClass(clipped, config.AssetClassCrypto, cryptoSum, cryptoCap)

	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Ticker < clipped[j].Ticker })

	return &Proposal{Entries: clipped, PortfolioValue: proposal.PortfolioValue}
}

func scaleAssetClass(entries []Entry, class config.AssetClass, sum, cap float64) {
	if sum <= cap || sum == 0 {
		return
	}
	scale := cap / sum
	for i := range entries {
		if entries[i].AssetClass == class {
			entries[i].Fraction *= scale
		}
	}
}
