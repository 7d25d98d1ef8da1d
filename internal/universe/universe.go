// Package universe selects the tradeable candidate set by market
// capitalization.
package universe

import (
	"sort"

	"upbitbot-go/internal/market"
)

// Selector filters and ranks symbols by market cap.
type Selector struct {
	exclusions map[string]struct{}
}

// NewSelector builds a selector excluding the given symbols (configured
// exclusions plus manual holdings).
func NewSelector(exclusions []string) *Selector {
	set := make(map[string]struct{}, len(exclusions))
	for _, sym := range exclusions {
		set[sym] = struct{}{}
	}
	return &Selector{exclusions: set}
}

// Excluded reports whether the symbol is out of bounds for the strategy.
func (s *Selector) Excluded(symbol string) bool {
	_, ok := s.exclusions[symbol]
	return ok
}

// TopByMarketCap returns up to k symbols ordered by cap descending, ties
// broken by symbol so the result is deterministic. Symbols that are excluded,
// absent, or carry a non-positive cap are dropped. An empty snapshot yields
// an empty slice.
func (s *Selector) TopByMarketCap(snapshot market.CapSnapshot, k int) []string {
	type ranked struct {
		symbol string
		cap    float64
	}
	candidates := make([]ranked, 0, len(snapshot))
	for sym, cap := range snapshot {
		if cap <= 0 || s.Excluded(sym) {
			continue
		}
		candidates = append(candidates, ranked{symbol: sym, cap: cap})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cap != candidates[j].cap {
			return candidates[i].cap > candidates[j].cap
		}
		return candidates[i].symbol < candidates[j].symbol
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]string, 0, k)
	for _, c := range candidates[:k] {
		out = append(out, c.symbol)
	}
	return out
}
