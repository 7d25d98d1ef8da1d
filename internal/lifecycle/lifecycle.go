// Package lifecycle enforces per-position holding limits and computes the
// volatility-breakout entry signal with ATR-derived exit levels used in live
// trading.
package lifecycle

import (
	"math"
	"time"

	"upbitbot-go/internal/market"
)

const (
	// MaxHoldDays is the longest a position may be held before a forced exit.
	MaxHoldDays = 14
	// MaxConsecutiveHolds caps how many detection cycles in a row a position
	// may survive.
	MaxConsecutiveHolds = 3
	// ATRWindow is the Average True Range lookback.
	ATRWindow = 14
	// BaseK seeds the breakout multiplier before volatility adjustment.
	BaseK = 0.5
	// MinK and MaxK clamp the dynamic multiplier.
	MinK = 0.3
	MaxK = 0.7
	// RiskMultiple scales ATR into stop-loss / take-profit distance.
	RiskMultiple = 1.5
)

// Manager owns the live-mode position rules.
type Manager struct {
	maxHold        time.Duration
	maxConsecutive int
}

// NewManager builds a manager with the default limits.
func NewManager() *Manager {
	return &Manager{
		maxHold:        MaxHoldDays * 24 * time.Hour,
		maxConsecutive: MaxConsecutiveHolds,
	}
}

// ShouldKeep reports whether a position entered at enteredAt with the given
// consecutive-hold count may stay open. A false result is the live loop's
// only sell trigger beyond the rebalance rules.
func (m *Manager) ShouldKeep(enteredAt time.Time, consecutive int, now time.Time) bool {
	if now.Sub(enteredAt) >= m.maxHold {
		return false
	}
	if consecutive >= m.maxConsecutive {
		return false
	}
	return true
}

// BreakoutTarget computes the Larry-Williams-style entry level: today's open
// plus yesterday's range scaled by the volatility-adjusted multiplier. At
// least two bars are required.
func (m *Manager) BreakoutTarget(series *market.Series) (float64, bool) {
	if series.Len() < 2 {
		return 0, false
	}
	bars := series.Bars()
	yesterday := bars[len(bars)-2]
	today := bars[len(bars)-1]
	volatility := yesterday.High - yesterday.Low
	return today.Open + volatility*m.dynamicK(series), true
}

// dynamicK scales BaseK by the ratio of the series-wide mean range to the
// trailing ATRWindow mean range, clamped to [MinK, MaxK]. When the rolling
// mean is unavailable or zero the ratio defaults to 1.
func (m *Manager) dynamicK(series *market.Series) float64 {
	bars := series.Bars()
	var recent float64
	for _, b := range bars {
		recent += b.High - b.Low
	}
	recent /= float64(len(bars))

	ratio := 1.0
	if len(bars) >= ATRWindow {
		var rolling float64
		for _, b := range bars[len(bars)-ATRWindow:] {
			rolling += b.High - b.Low
		}
		rolling /= ATRWindow
		if rolling > 0 {
			ratio = recent / rolling
		}
	}
	k := BaseK * ratio
	return math.Max(MinK, math.Min(k, MaxK))
}

// ShouldEnter reports whether the latest close has broken above the target.
func (m *Manager) ShouldEnter(series *market.Series) bool {
	target, ok := m.BreakoutTarget(series)
	if !ok {
		return false
	}
	last, ok := series.Last()
	if !ok {
		return false
	}
	return last.Close > target
}

// ATR computes the classic max-of-three-ranges rolling-mean Average True
// Range over the trailing window. The first bar's true range is its
// high-low span since no prior close exists.
func ATR(series *market.Series, window int) (float64, bool) {
	if window <= 0 || series.Len() < window {
		return 0, false
	}
	bars := series.Bars()
	ranges := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		ranges[i] = tr
	}
	var sum float64
	for _, tr := range ranges[len(ranges)-window:] {
		sum += tr
	}
	return sum / float64(window), true
}

// RiskLevels derives the stop-loss and take-profit prices from the breakout
// target and the ATR.
func (m *Manager) RiskLevels(series *market.Series) (stopLoss, takeProfit float64, ok bool) {
	target, ok := m.BreakoutTarget(series)
	if !ok {
		return 0, 0, false
	}
	atr, ok := ATR(series, ATRWindow)
	if !ok {
		return 0, 0, false
	}
	return target - RiskMultiple*atr, target + RiskMultiple*atr, true
}
