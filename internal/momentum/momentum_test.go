package momentum

import (
	"math"
	"reflect"
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

func TestScore(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := seriesWithCloses("KRW-BTC", start, 100, 101, 102, 103, 104, 105, 106, 110)
	asOf := start.AddDate(0, 0, 7)

	got := Score(series, asOf)
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("expected 10%% return, got %.4f", got)
	}
}

func TestScoreMissingEndpointIsNegInf(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := seriesWithCloses("KRW-BTC", start, 100, 101, 102)

	if got := Score(series, start.AddDate(0, 0, 2)); !math.IsInf(got, -1) {
		t.Fatalf("expected -inf for missing 7-day-prior bar, got %.2f", got)
	}
	if got := Score(series, start.AddDate(0, 0, 30)); !math.IsInf(got, -1) {
		t.Fatalf("expected -inf for missing current bar, got %.2f", got)
	}
	if got := Score(nil, start); !math.IsInf(got, -1) {
		t.Fatalf("expected -inf for nil series, got %.2f", got)
	}
}

func TestTopExcludesSentinels(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 7)
	series := map[string]*market.Series{
		"KRW-GOOD":  seriesWithCloses("KRW-GOOD", start, 100, 100, 100, 100, 100, 100, 100, 105),
		"KRW-SHORT": seriesWithCloses("KRW-SHORT", start.AddDate(0, 0, 6), 100, 101),
	}

	got := NewRanker().Top([]string{"KRW-GOOD", "KRW-SHORT"}, series, asOf, 2)
	if !reflect.DeepEqual(got, []string{"KRW-GOOD"}) {
		t.Fatalf("candidate without a 7-day-prior bar must never rank, got %v", got)
	}
}

func TestTopOrderAndTies(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 7)
	series := map[string]*market.Series{
		"KRW-A": seriesWithCloses("KRW-A", start, 100, 0, 0, 0, 0, 0, 0, 120),
		"KRW-B": seriesWithCloses("KRW-B", start, 100, 0, 0, 0, 0, 0, 0, 110),
		"KRW-C": seriesWithCloses("KRW-C", start, 100, 0, 0, 0, 0, 0, 0, 110),
	}
	got := NewRanker().Top([]string{"KRW-C", "KRW-B", "KRW-A"}, series, asOf, 3)
	want := []string{"KRW-A", "KRW-B", "KRW-C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTopFloorsCollapsedPricing(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 7)
	series := map[string]*market.Series{
		// -100% return: price collapsed to zero, rejected by the floor.
		"KRW-DEAD": seriesWithCloses("KRW-DEAD", start, 100, 0, 0, 0, 0, 0, 0, 0),
	}
	if got := NewRanker().Top([]string{"KRW-DEAD"}, series, asOf, 1); len(got) != 0 {
		t.Fatalf("expected floor to reject -100%% score, got %v", got)
	}
}
