// Package momentum scores candidates by trailing percentage return.
package momentum

import (
	"math"
	"sort"
	"time"

	"upbitbot-go/internal/market"
)

const (
	// LookbackDays is days between the two closes of the momentum score.
	LookbackDays = 7
	// ScoreFloor rejects nonsensical or placeholder pricing; candidates must
	// score strictly above it to be ranked.
	ScoreFloor = -100
)

// Score computes the trailing return of a series as of a calendar day:
// percent change of close versus the close LookbackDays earlier. A missing
// endpoint yields negative infinity so the candidate sorts last.
func Score(series *market.Series, asOf time.Time) float64 {
	current, ok := series.CloseOn(asOf)
	if !ok {
		return math.Inf(-1)
	}
	past, ok := series.CloseOn(asOf.AddDate(0, 0, -LookbackDays))
	if !ok || past == 0 {
		return math.Inf(-1)
	}
	return (current - past) / past * 100
}

// Ranker picks the strongest candidates by trailing return.
type Ranker struct {
	lookback int
}

// NewRanker builds a ranker. The lookback is fixed at LookbackDays today;
// the field exists so the window is visible in one place.
func NewRanker() *Ranker {
	return &Ranker{lookback: LookbackDays}
}

// Top returns up to n candidates ordered by score descending, ties broken by
// symbol. Candidates scoring at or below ScoreFloor are dropped, which also
// removes every missing-data sentinel.
func (r *Ranker) Top(candidates []string, series map[string]*market.Series, asOf time.Time, n int) []string {
	type scored struct {
		symbol string
		score  float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, sym := range candidates {
		score := Score(series[sym], asOf)
		if score <= ScoreFloor {
			continue
		}
		ranked = append(ranked, scored{symbol: sym, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, c := range ranked[:n] {
		out = append(out, c.symbol)
	}
	return out
}
