package rebalance

import (
	"testing"
	"time"

	"upbitbot-go/internal/market"
)

func seriesWithCloses(symbol string, start time.Time, closes ...float64) *market.Series {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Date: start.AddDate(0, 0, i), Close: c}
	}
	return market.NewSeries(symbol, bars)
}

func TestDueOnInterval(t *testing.T) {
	scheduler := NewScheduler(10080, DefaultLossThreshold) // weekly
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	due, reason := scheduler.Due(last.Add(7*24*time.Hour), last, nil, nil)
	if !due || reason != ReasonInterval {
		t.Fatalf("expected interval trigger, got due=%v reason=%q", due, reason)
	}

	due, _ = scheduler.Due(last.Add(6*24*time.Hour), last, nil, nil)
	if due {
		t.Fatalf("expected no trigger before the interval elapses")
	}
}

func TestDueOnTrailingLoss(t *testing.T) {
	scheduler := NewScheduler(10080, DefaultLossThreshold)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 0, 7)

	series := map[string]*market.Series{
		"KRW-DOWN": seriesWithCloses("KRW-DOWN", start, 100, 0, 0, 0, 0, 0, 0, 88),
		"KRW-FLAT": seriesWithCloses("KRW-FLAT", start, 100, 0, 0, 0, 0, 0, 0, 100),
	}

	due, reason := scheduler.Due(now, now, []string{"KRW-FLAT", "KRW-DOWN"}, series)
	if !due || reason != ReasonLoss {
		t.Fatalf("expected loss trigger at -12%%, got due=%v reason=%q", due, reason)
	}
}

func TestDueIgnoresMissingData(t *testing.T) {
	scheduler := NewScheduler(10080, DefaultLossThreshold)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 0, 7)

	// No bar 7 days back: cannot evaluate, must not count as a loss.
	series := map[string]*market.Series{
		"KRW-NEW": seriesWithCloses("KRW-NEW", now, 100),
	}
	due, _ := scheduler.Due(now, now, []string{"KRW-NEW"}, series)
	if due {
		t.Fatalf("missing price data must not trigger a loss rebalance")
	}
}

func TestDueLossBoundary(t *testing.T) {
	scheduler := NewScheduler(10080, DefaultLossThreshold)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 0, 7)

	exact := map[string]*market.Series{
		"KRW-A": seriesWithCloses("KRW-A", start, 100, 0, 0, 0, 0, 0, 0, 90),
	}
	due, _ := scheduler.Due(now, now, []string{"KRW-A"}, exact)
	if !due {
		t.Fatalf("a -10%% return is a qualifying loss")
	}

	above := map[string]*market.Series{
		"KRW-A": seriesWithCloses("KRW-A", start, 100, 0, 0, 0, 0, 0, 0, 90.01),
	}
	due, _ = scheduler.Due(now, now, []string{"KRW-A"}, above)
	if due {
		t.Fatalf("-9.99%% must not trigger")
	}
}
