// Package context provides the bounded, pluggable contextual-signal
// subsystem. It is strictly additive: it can never produce an
// independent signal class and its adjustment is always clamped to ±5.
package context

import (
	"context"
	"sync"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
)

// Record is one ticker's bounded contextual signal.
type Record struct {
	Summary           string
	PositiveCatalysts []string
	RiskEvents        []string
	Sentiment         float64 // [-1, +1]
	Adjustment        float64 // clamped to [-max, +max]
}

// Provider produces a bounded contextual Record for a ticker. Implementations
// must never error the caller out of scoring: on failure or when disabled,
// callers should use NoOp's zero-value record instead.
type Provider interface {
	Context(ctx context.Context, ticker string) (*Record, error)
}

// NoOp is the default Provider: always returns an empty, zero-adjustment record.
type NoOp struct{}

// Context implements Provider.
func (NoOp) Context(ctx context.Context, ticker string) (*Record, error) {
	return &Record{}, nil
}

// Adjustment computes the bounded context adjustment:
//
//	adjustment = clamp(3*sentiment + min(0.5*|catalysts|,2.0) - min(0.5*|risks|,2.0), -max, +max)
func Adjustment(sentiment float64, numCatalysts, numRisks int, cfg config.ContextConfig) float64 {
	if !cfg.Enabled {
		return 0
	}

	catalystTerm := 0.5 * float64(numCatalysts)
	if catalystTerm > 2.0 {
		catalystTerm = 2.0
	}
	riskTerm := 0.5 * float64(numRisks)
	if riskTerm > 2.0 {
		riskTerm = 2.0
	}

	adj := 3*sentiment + catalystTerm - riskTerm

	max := cfg.MaxAdjustment
	if max <= 0 {
		max = 5.0
	}
	if adj > max {
		adj = max
	}
	if adj < -max {
		adj = -max
	}
	return adj
}

// Note is one raw, unscored observation about a ticker: a catalyst or risk
// headline plus a sentiment contribution. StaticProvider aggregates notes
// per ticker into a bounded Record via Adjustment.
type Note struct {
	Headline  string
	Sentiment float64 // [-1, +1]
	IsRisk    bool
}

// StaticProvider is a Provider backed by an in-memory, operator-supplied
// table of notes per ticker — the simplest concrete implementation of the
// bounded contextual subsystem, useful for tests and for hosts that ingest
// an external news/sentiment feed out-of-band and hand it to the core as a
// static snapshot rather than calling out live. It is strictly additive:
// Context never returns an error, and Adjustment bounds the result to
// [-cfg.MaxAdjustment, +cfg.MaxAdjustment] regardless of how many notes a
// ticker carries.
type StaticProvider struct {
	cfg config.ContextConfig

	mu    sync.RWMutex
	notes map[string][]Note
}

// NewStaticProvider builds a StaticProvider from the loaded context configuration.
func NewStaticProvider(cfg config.ContextConfig) *StaticProvider {
	return &StaticProvider{cfg: cfg, notes: make(map[string][]Note)}
}

// SetNotes replaces the full set of notes for ticker.
func (p *StaticProvider) SetNotes(ticker string, notes []Note) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes[ticker] = notes
}

// Context aggregates ticker's notes into a bounded Record. A ticker with no
// notes returns the same empty, zero-adjustment Record NoOp would.
func (p *StaticProvider) Context(ctx context.Context, ticker string) (*Record, error) {
	if !p.cfg.Enabled {
		return &Record{}, nil
	}

	p.mu.RLock()
	notes := p.notes[ticker]
	p.mu.RUnlock()

	if len(notes) == 0 {
		return &Record{}, nil
	}

	var summary string
	var catalysts, risks []string
	var sentimentSum float64
	for _, n := range notes {
		sentimentSum += n.Sentiment
		if n.IsRisk {
			risks = append(risks, n.Headline)
		} else {
			catalysts = append(catalysts, n.Headline)
		}
	}
	if len(notes) > 0 {
		summary = notes[0].Headline
	}
	avgSentiment := sentimentSum / float64(len(notes))
	if avgSentiment > 1 {
		avgSentiment = 1
	}
	if avgSentiment < -1 {
		avgSentiment = -1
	}

	return &Record{
		Summary:           summary,
		PositiveCatalysts: catalysts,
		RiskEvents:        risks,
		Sentiment:         avgSentiment,
		Adjustment:        Adjustment(avgSentiment, len(catalysts), len(risks), p.cfg),
	}, nil
}
