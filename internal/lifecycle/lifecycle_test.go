package lifecycle

import (
	"math"
	"testing"
	"time"

	"upbitbot-go/internal/market"
)

func barsFlatRange(n int, open, spread float64) []market.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Date:  start.AddDate(0, 0, i),
			Open:  open,
			High:  open + spread,
			Low:   open - spread,
			Close: open,
		}
	}
	return bars
}

func TestShouldKeepLimits(t *testing.T) {
	manager := NewManager()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if !manager.ShouldKeep(now.AddDate(0, 0, -13), 2, now) {
		t.Fatalf("13 days held with 2 holds must be kept")
	}
	if manager.ShouldKeep(now.AddDate(0, 0, -14), 0, now) {
		t.Fatalf("14 days held must be dropped")
	}
	if manager.ShouldKeep(now.AddDate(0, 0, -1), 3, now) {
		t.Fatalf("3 consecutive holds must be dropped")
	}
}

func TestBreakoutTargetFlatVolatility(t *testing.T) {
	manager := NewManager()
	// Uniform ranges make the volatility ratio exactly 1 so k = BaseK.
	series := market.NewSeries("KRW-BTC", barsFlatRange(20, 100, 5))

	target, ok := manager.BreakoutTarget(series)
	if !ok {
		t.Fatalf("expected a target with 20 bars")
	}
	want := 100 + 10*BaseK // open + yesterday's range * k
	if math.Abs(target-want) > 1e-9 {
		t.Fatalf("expected target %.2f, got %.2f", want, target)
	}
}

func TestBreakoutTargetNeedsTwoBars(t *testing.T) {
	manager := NewManager()
	series := market.NewSeries("KRW-BTC", barsFlatRange(1, 100, 5))
	if _, ok := manager.BreakoutTarget(series); ok {
		t.Fatalf("expected no target with a single bar")
	}
}

func TestDynamicKClamped(t *testing.T) {
	manager := NewManager()
	// Early bars are wildly volatile, recent 14 are quiet: ratio blows up
	// and must clamp at MaxK.
	bars := barsFlatRange(30, 100, 1)
	for i := 0; i < 10; i++ {
		bars[i].High = 200
		bars[i].Low = 0
	}
	if k := manager.dynamicK(market.NewSeries("KRW-BTC", bars)); k != MaxK {
		t.Fatalf("expected clamp at %.1f, got %.4f", MaxK, k)
	}

	// All-zero ranges leave the ratio at its default of 1.
	quiet := barsFlatRange(30, 100, 0)
	if k := manager.dynamicK(market.NewSeries("KRW-BTC", quiet)); k != BaseK {
		t.Fatalf("expected base k %.1f with zero rolling range, got %.4f", BaseK, k)
	}
}

func TestShouldEnter(t *testing.T) {
	manager := NewManager()
	bars := barsFlatRange(20, 100, 5)
	// Close above open + range*k breaks out.
	bars[len(bars)-1].Close = 106
	if !manager.ShouldEnter(market.NewSeries("KRW-BTC", bars)) {
		t.Fatalf("expected breakout entry at close 106 vs target 105")
	}
	bars[len(bars)-1].Close = 104
	if manager.ShouldEnter(market.NewSeries("KRW-BTC", bars)) {
		t.Fatalf("expected no entry below the target")
	}
}

func TestATR(t *testing.T) {
	// Flat bars: every true range equals the high-low spread.
	series := market.NewSeries("KRW-BTC", barsFlatRange(20, 100, 5))
	atr, ok := ATR(series, ATRWindow)
	if !ok {
		t.Fatalf("expected ATR with 20 bars")
	}
	if math.Abs(atr-10) > 1e-9 {
		t.Fatalf("expected ATR 10, got %.4f", atr)
	}

	if _, ok := ATR(market.NewSeries("KRW-BTC", barsFlatRange(5, 100, 5)), ATRWindow); ok {
		t.Fatalf("expected no ATR with fewer bars than the window")
	}
}

func TestATRGapUsesPriorClose(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Date: start, Open: 100, High: 101, Low: 99, Close: 100},
		// Gap down: distance to the prior close dominates the intraday range.
		{Date: start.AddDate(0, 0, 1), Open: 80, High: 81, Low: 79, Close: 80},
	}
	atr, ok := ATR(market.NewSeries("KRW-BTC", bars), 2)
	if !ok {
		t.Fatalf("expected ATR")
	}
	// TR = [2, max(2, |81-100|, |79-100|)] = [2, 21]
	if math.Abs(atr-11.5) > 1e-9 {
		t.Fatalf("expected ATR 11.5, got %.4f", atr)
	}
}

func TestRiskLevels(t *testing.T) {
	manager := NewManager()
	series := market.NewSeries("KRW-BTC", barsFlatRange(20, 100, 5))

	stop, take, ok := manager.RiskLevels(series)
	if !ok {
		t.Fatalf("expected risk levels")
	}
	target := 100 + 10*BaseK
	if math.Abs(stop-(target-15)) > 1e-9 || math.Abs(take-(target+15)) > 1e-9 {
		t.Fatalf("expected %.1f/%.1f, got %.1f/%.1f", target-15, target+15, stop, take)
	}
}
