// Package universe holds the fixed, versioned asset universe the service is
// allowed to rank, partitioned by market and asset class.
package universe

import (
	"sort"
	"strings"

	"github.com/kg90-eg/alloc-sentinel/internal/config"
)

// Entry describes one ticker's membership in the universe.
type Entry struct {
	Ticker      string
	Market      string
	AssetClass  config.AssetClass
	DisplayName string
}

// Universe is a read-only view over the configured asset universe.
type Universe struct {
	version int
	entries []Entry
	byTicker map[string]Entry
}

// New builds a Universe from the loaded configuration. Membership changes
// only by editing configuration and reloading; there is no runtime mutation.
func New(cfg config.UniverseConfig) *Universe {
	u := &Universe{
		version:  cfg.Version,
		byTicker: make(map[string]Entry),
	}

	for market, tickers := range cfg.Markets {
		for _, ticker := range tickers {
			entry := Entry{
				Ticker:      ticker,
				Market:      market,
				AssetClass:  cfg.AssetClass[ticker],
				DisplayName: cfg.DisplayName[ticker],
			}
			u.entries = append(u.entries, entry)
			u.byTicker[ticker] = entry
		}
	}

	sort.Slice(u.entries, func(i, j int) bool { return u.entries[i].Ticker < u.entries[j].Ticker })

	return u
}

// Version returns the universe's configuration version.
func (u *Universe) Version() int { return u.version }

// Tickers returns every ticker in the universe, optionally scoped to one market.
// An empty scope returns the full universe.
func (u *Universe) Tickers(scope string) []string {
	out := make([]string, 0, len(u.entries))
	for _, e := range u.entries {
		if scope != "" && !strings.EqualFold(e.Market, scope) {
			continue
		}
		out = append(out, e.Ticker)
	}
	return out
}

// Lookup returns the Entry for a ticker, and whether it was found.
func (u *Universe) Lookup(ticker string) (Entry, bool) {
	e, ok := u.byTicker[ticker]
	return e, ok
}

// AssetClass returns the configured asset class for a ticker, defaulting to
// equity if the ticker carries no explicit tag.
func (u *Universe) AssetClass(ticker string) config.AssetClass {
	if e, ok := u.byTicker[ticker]; ok && e.AssetClass != "" {
		return e.AssetClass
	}
	return config.AssetClassEquity
}

// Search returns tickers whose symbol or display name contains query
// (case-insensitive substring match), sorted ascending by ticker.
func (u *Universe) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return u.Tickers("")
	}

	var out []string
	for _, e := range u.entries {
		if strings.Contains(strings.ToLower(e.Ticker), q) || strings.Contains(strings.ToLower(e.DisplayName), q) {
			out = append(out, e.Ticker)
		}
	}
	sort.Strings(out)
	return out
}
