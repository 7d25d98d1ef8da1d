// Package regime classifies the market trend from a reference asset's price
// against its long moving average.
package regime

import (
	"time"

	"upbitbot-go/internal/market"
)

// State is the trading regime the engine operates under.
type State int

const (
	// Active allows rebalancing and new entries.
	Active State = iota
	// Suspended forces liquidation and halts trading.
	Suspended
)

func (s State) String() string {
	if s == Suspended {
		return "suspended"
	}
	return "active"
}

// Reading is the outcome of one filter evaluation. Indeterminate means the
// caller must skip the cycle and keep its prior state.
type Reading int

const (
	Indeterminate Reading = iota
	Uptrend
	Downtrend
)

func (r Reading) String() string {
	switch r {
	case Uptrend:
		return "uptrend"
	case Downtrend:
		return "downtrend"
	default:
		return "indeterminate"
	}
}

// DefaultWindow is the moving-average lookback in daily bars.
const DefaultWindow = 120

// Filter compares the latest close of the reference series to its trailing
// moving average.
type Filter struct {
	window int
}

// NewFilter builds a filter with the given lookback, falling back to
// DefaultWindow for non-positive values.
func NewFilter(window int) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Filter{window: window}
}

// Evaluate classifies the trend as of the latest bar in the series. Fewer
// than window bars yields Indeterminate, never a trend.
func (f *Filter) Evaluate(series *market.Series) Reading {
	if series.Len() < f.window {
		return Indeterminate
	}
	bars := series.Bars()
	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return Indeterminate
	}
	var sum float64
	for _, b := range bars[len(bars)-f.window:] {
		sum += b.Close
	}
	if last.Close > sum/float64(f.window) {
		return Uptrend
	}
	return Downtrend
}

// EvaluateAt classifies the trend as of a specific calendar day. The day must
// have a bar and at least window bars must precede it (inclusive), otherwise
// the reading is Indeterminate.
func (f *Filter) EvaluateAt(series *market.Series, asOf time.Time) Reading {
	if _, ok := series.BarOn(asOf); !ok {
		return Indeterminate
	}
	return f.Evaluate(series.UpTo(asOf))
}
