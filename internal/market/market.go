// Package market holds the price and market-cap data model shared by the
// strategy components. Series are immutable once built; all lookups are by
// calendar day.
package market

import (
	"sort"
	"time"
)

// DayFormat is the canonical key for daily bars.
const DayFormat = "2006-01-02"

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Bar is a single daily OHLC candle.
type Bar struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Series is an ordered-by-date sequence of bars for one symbol.
type Series struct {
	Symbol string
	bars   []Bar
	byDay  map[string]int
}

// NewSeries builds a series from bars, sorting by date and deduplicating on
// day (the last bar for a day wins).
func NewSeries(symbol string, bars []Bar) *Series {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := make([]Bar, 0, len(sorted))
	byDay := make(map[string]int, len(sorted))
	for _, b := range sorted {
		key := Day(b.Date).Format(DayFormat)
		if idx, ok := byDay[key]; ok {
			out[idx] = b
			continue
		}
		byDay[key] = len(out)
		out = append(out, b)
	}
	return &Series{Symbol: symbol, bars: out, byDay: byDay}
}

// Len reports the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bars)
}

// Bars returns the underlying bars in date order. Callers must not mutate.
func (s *Series) Bars() []Bar {
	if s == nil {
		return nil
	}
	return s.bars
}

// Last returns the most recent bar.
func (s *Series) Last() (Bar, bool) {
	if s.Len() == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// BarOn returns the bar for the given calendar day.
func (s *Series) BarOn(t time.Time) (Bar, bool) {
	if s == nil {
		return Bar{}, false
	}
	idx, ok := s.byDay[Day(t).Format(DayFormat)]
	if !ok {
		return Bar{}, false
	}
	return s.bars[idx], true
}

// CloseOn returns the close price for the given calendar day.
func (s *Series) CloseOn(t time.Time) (float64, bool) {
	bar, ok := s.BarOn(t)
	if !ok {
		return 0, false
	}
	return bar.Close, true
}

// UpTo returns the prefix of the series ending on the given day, inclusive.
// Bars after the day are dropped; the receiver is left untouched.
func (s *Series) UpTo(t time.Time) *Series {
	if s == nil {
		return nil
	}
	cutoff := Day(t)
	n := sort.Search(len(s.bars), func(i int) bool {
		return Day(s.bars[i].Date).After(cutoff)
	})
	return NewSeries(s.Symbol, s.bars[:n])
}

// CapSnapshot maps symbol to market capitalization for a single date.
type CapSnapshot map[string]float64
