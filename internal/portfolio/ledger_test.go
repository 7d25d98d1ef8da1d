package portfolio

import (
	"math"
	"testing"
	"time"

	"upbitbot-go/internal/market"
)

var testDay = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func seriesAt(symbol string, close float64) *market.Series {
	return market.NewSeries(symbol, []market.Bar{{Date: testDay, Close: close}})
}

func TestValuationTreatsMissingPriceAsZero(t *testing.T) {
	ledger := NewLedger(1000, nil)
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-BTC", Qty: 2, Notional: 500})
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-GONE", Qty: 3, Notional: 300})

	series := map[string]*market.Series{"KRW-BTC": seriesAt("KRW-BTC", 400)}
	got := ledger.Valuation(testDay, series)
	want := 200.0 + 2*400 // cash + BTC, KRW-GONE valued at zero
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected valuation %.1f, got %.1f", want, got)
	}
}

func TestLiquidateAllIsIdempotent(t *testing.T) {
	ledger := NewLedger(0, []string{"KRW-MANUAL"})
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-BTC", Qty: 1, Notional: 0})
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-MANUAL", Qty: 1, Notional: 0})
	series := map[string]*market.Series{"KRW-BTC": seriesAt("KRW-BTC", 100)}

	first := ledger.LiquidateAll(testDay, series)
	if len(first) != 1 || first[0].Symbol != "KRW-BTC" || first[0].Action != Sell {
		t.Fatalf("expected one sell of KRW-BTC, got %+v", first)
	}
	if ledger.Position("KRW-MANUAL") != 1 {
		t.Fatalf("manual holding must never be liquidated")
	}

	second := ledger.LiquidateAll(testDay, series)
	if len(second) != 0 {
		t.Fatalf("second liquidation must be a no-op, got %+v", second)
	}

	sells := 0
	for _, trade := range ledger.Trades() {
		if trade.Action == Sell {
			sells++
		}
	}
	if sells != 1 {
		t.Fatalf("expected exactly one sell record, got %d", sells)
	}
}

func TestLiquidateAllUnavailablePriceSellsAtZero(t *testing.T) {
	ledger := NewLedger(500, nil)
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-GONE", Qty: 4, Notional: 0})

	trades := ledger.LiquidateAll(testDay, map[string]*market.Series{})
	if len(trades) != 1 || trades[0].Price != 0 || trades[0].Notional != 0 {
		t.Fatalf("expected a zero-price sell, got %+v", trades)
	}
	if ledger.Cash() != 500 {
		t.Fatalf("zero-price sell must not change cash, got %.1f", ledger.Cash())
	}
	if ledger.Position("KRW-GONE") != 0 {
		t.Fatalf("position must be zeroed")
	}
}

func TestRebalanceToMinNotionalSkip(t *testing.T) {
	ledger := NewLedger(14000, nil)
	series := map[string]*market.Series{
		"KRW-A": seriesAt("KRW-A", 100),
		"KRW-B": seriesAt("KRW-B", 100),
		"KRW-C": seriesAt("KRW-C", 100),
	}

	trades := ledger.RebalanceTo([]string{"KRW-A", "KRW-B", "KRW-C"}, testDay, series)
	if len(trades) != 0 {
		t.Fatalf("equal share under the minimum notional must place zero orders, got %+v", trades)
	}
	if ledger.Cash() != 14000 {
		t.Fatalf("cash must be untouched, got %.1f", ledger.Cash())
	}
}

func TestRebalanceToLotRounding(t *testing.T) {
	ledger := NewLedger(100000, nil)
	series := map[string]*market.Series{
		"KRW-A": seriesAt("KRW-A", 1000),
		"KRW-B": seriesAt("KRW-B", 1000),
		"KRW-C": seriesAt("KRW-C", 1000),
	}

	trades := ledger.RebalanceTo([]string{"KRW-A", "KRW-B", "KRW-C"}, testDay, series)
	if len(trades) != 3 {
		t.Fatalf("expected 3 buys, got %d", len(trades))
	}
	for _, trade := range trades {
		if trade.Notional != 33000 {
			t.Fatalf("expected 33,000 per symbol after lot flooring, got %.1f", trade.Notional)
		}
	}
	if math.Abs(ledger.Cash()-1000) > 1e-9 {
		t.Fatalf("expected 1,000 cash left, got %.1f", ledger.Cash())
	}
}

func TestRebalanceToCashConservation(t *testing.T) {
	ledger := NewLedger(100000, nil)
	series := map[string]*market.Series{
		"KRW-A": seriesAt("KRW-A", 123),
		"KRW-B": seriesAt("KRW-B", 77),
	}

	before := ledger.Cash()
	trades := ledger.RebalanceTo([]string{"KRW-A", "KRW-B"}, testDay, series)
	var spent float64
	for _, trade := range trades {
		if trade.Action == Buy {
			spent += trade.Notional
		}
	}
	if math.Abs(ledger.Cash()+spent-before) > 1e-9 {
		t.Fatalf("cash leaked: before=%.2f after=%.2f spent=%.2f", before, ledger.Cash(), spent)
	}
	if ledger.Cash() < 0 {
		t.Fatalf("cash went negative: %.2f", ledger.Cash())
	}
}

func TestRebalanceToSkipsUnpricedSymbol(t *testing.T) {
	ledger := NewLedger(30000, nil)
	series := map[string]*market.Series{"KRW-A": seriesAt("KRW-A", 100)}

	trades := ledger.RebalanceTo([]string{"KRW-A", "KRW-MISSING"}, testDay, series)
	if len(trades) != 1 || trades[0].Symbol != "KRW-A" {
		t.Fatalf("expected only the priced symbol to be bought, got %+v", trades)
	}
	if ledger.Cash() != 15000 {
		t.Fatalf("no cash may be spent on the unpriced symbol, got %.1f", ledger.Cash())
	}
}

func TestRebalanceToSellsThenBuys(t *testing.T) {
	ledger := NewLedger(0, nil)
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-A", Qty: 10, Notional: 0})
	series := map[string]*market.Series{
		"KRW-A": seriesAt("KRW-A", 3000),
		"KRW-B": seriesAt("KRW-B", 100),
		"KRW-D": seriesAt("KRW-D", 100),
	}

	trades := ledger.RebalanceTo([]string{"KRW-B", "KRW-D"}, testDay, series)
	if len(trades) != 3 {
		t.Fatalf("expected sell + two buys, got %d", len(trades))
	}
	if trades[0].Action != Sell || trades[0].Symbol != "KRW-A" {
		t.Fatalf("expected the exit phase first, got %+v", trades[0])
	}
	if trades[1].Action != Buy || trades[1].Symbol != "KRW-B" {
		t.Fatalf("expected buy KRW-B second, got %+v", trades[1])
	}
	if trades[2].Action != Buy || trades[2].Symbol != "KRW-D" {
		t.Fatalf("expected buy KRW-D third, got %+v", trades[2])
	}
	if qty := ledger.Position("KRW-A"); qty != 0 {
		t.Fatalf("KRW-A must be fully exited, got %.2f", qty)
	}
	// 30,000 from the sell split evenly into two 15,000 buys.
	if trades[1].Notional != 15000 || trades[2].Notional != 15000 {
		t.Fatalf("expected equal 15,000 allocations, got %.0f and %.0f", trades[1].Notional, trades[2].Notional)
	}
}

func TestRebalanceToAddsToExistingPosition(t *testing.T) {
	ledger := NewLedger(10000, nil)
	ledger.ApplyFill(Trade{Action: Buy, Symbol: "KRW-A", Qty: 5, Notional: 0})
	series := map[string]*market.Series{"KRW-A": seriesAt("KRW-A", 1000)}

	ledger.RebalanceTo([]string{"KRW-A"}, testDay, series)
	if qty := ledger.Position("KRW-A"); math.Abs(qty-15) > 1e-9 {
		t.Fatalf("buy must add to the existing position, got %.2f", qty)
	}
}
