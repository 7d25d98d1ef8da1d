// Package rebalance decides when the portfolio should be re-struck.
package rebalance

import (
	"sort"
	"time"

	"upbitbot-go/internal/market"
	"upbitbot-go/internal/momentum"
)

// DefaultLossThreshold is the trailing-return level, in percent, at which a
// held position forces an early rebalance.
const DefaultLossThreshold = -10

// Reason explains why a rebalance fired.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonInterval Reason = "interval elapsed"
	ReasonLoss     Reason = "trailing loss"
)

// Scheduler triggers on elapsed time or on a large trailing loss in any held
// position. The loss check uses the same 7-day-return formula as momentum
// ranking, not P&L from the entry price.
type Scheduler struct {
	interval      time.Duration
	lossThreshold float64
}

// NewScheduler builds a scheduler from an interval in minutes.
func NewScheduler(intervalMinutes int, lossThreshold float64) *Scheduler {
	if lossThreshold >= 0 {
		lossThreshold = DefaultLossThreshold
	}
	return &Scheduler{
		interval:      time.Duration(intervalMinutes) * time.Minute,
		lossThreshold: lossThreshold,
	}
}

// Interval returns the configured rebalance cadence.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Due reports whether a rebalance should fire now, and why. held must
// contain only non-manual positions with positive quantity. The loss scan
// runs in symbol order and stops at the first qualifying position; a symbol
// with no usable price data never counts as a loss.
func (s *Scheduler) Due(now, lastRebalance time.Time, held []string, series map[string]*market.Series) (bool, Reason) {
	if now.Sub(lastRebalance) >= s.interval {
		return true, ReasonInterval
	}
	sorted := make([]string, len(held))
	copy(sorted, held)
	sort.Strings(sorted)
	for _, sym := range sorted {
		score := momentum.Score(series[sym], now)
		if score <= momentum.ScoreFloor {
			// Cannot evaluate; missing data is not a loss.
			continue
		}
		if score <= s.lossThreshold {
			return true, ReasonLoss
		}
	}
	return false, ReasonNone
}
