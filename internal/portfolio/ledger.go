// Package portfolio is the authoritative record of cash, positions, and the
// trade log. All mutation goes through the ledger so cash conservation and
// the no-negative-balance invariant live in one place, and the trade log is
// an exact audit trail of the ledger's own actions.
package portfolio

import (
	"sort"
	"sync"
	"time"

	"upbitbot-go/internal/market"
)

// Action distinguishes trade directions in the log.
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Trade is one immutable entry of the append-only trade log.
type Trade struct {
	Date     time.Time `json:"date"`
	Action   Action    `json:"action"`
	Symbol   string    `json:"symbol"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
	Reason   string    `json:"reason,omitempty"`
}

const (
	// DefaultLotSize is the increment a per-symbol spend is floored to.
	DefaultLotSize = 1000
	// DefaultMinNotional is the exchange minimum order value; allocations
	// below it are skipped outright, never rounded up.
	DefaultMinNotional = 5000
)

// Ledger tracks cash and positions for one account. Quantity zero is
// equivalent to not held; zero entries stay in the map for idempotent
// bookkeeping but never appear in Holdings.
type Ledger struct {
	mu          sync.Mutex
	cash        float64
	positions   map[string]float64
	trades      []Trade
	manual      map[string]struct{}
	lotSize     float64
	minNotional float64
}

// NewLedger builds a ledger with starting cash. Manual holdings are never
// bought or sold by any ledger operation.
func NewLedger(startingCash float64, manualHoldings []string) *Ledger {
	manual := make(map[string]struct{}, len(manualHoldings))
	for _, sym := range manualHoldings {
		manual[sym] = struct{}{}
	}
	return &Ledger{
		cash:        startingCash,
		positions:   make(map[string]float64),
		manual:      manual,
		lotSize:     DefaultLotSize,
		minNotional: DefaultMinNotional,
	}
}

// Cash returns the free cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns the held quantity for a symbol.
func (l *Ledger) Position(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[symbol]
}

// Holdings returns the automated (non-manual) symbols with positive
// quantity, sorted for deterministic iteration.
func (l *Ledger) Holdings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holdingsLocked()
}

func (l *Ledger) holdingsLocked() []string {
	out := make([]string, 0, len(l.positions))
	for sym, qty := range l.positions {
		if qty <= 0 {
			continue
		}
		if _, ok := l.manual[sym]; ok {
			continue
		}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Trades returns a copy of the trade log in chronological order.
func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Valuation marks the portfolio on the given day: cash plus quantity times
// close. A missing price values the position at zero; degraded valuation is
// policy here, not an error.
func (l *Ledger) Valuation(date time.Time, series map[string]*market.Series) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.cash
	for sym, qty := range l.positions {
		if qty <= 0 {
			continue
		}
		price, _ := series[sym].CloseOn(date)
		total += qty * price
	}
	return total
}

// LiquidateAll sells every non-manual position with positive quantity at the
// day's close, or zero if the price is unavailable. Positions already at
// zero are skipped, so a second call produces no second trade.
func (l *Ledger) LiquidateAll(date time.Time, series map[string]*market.Series) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sold []Trade
	for _, sym := range l.holdingsLocked() {
		sold = append(sold, l.sellAllLocked(sym, date, series, ""))
	}
	return sold
}

// SellAll closes a single non-manual position entirely, tagging the trade
// with a reason for the notification channel. It reports false when there is
// nothing to sell.
func (l *Ledger) SellAll(symbol string, date time.Time, series map[string]*market.Series, reason string) (Trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.manual[symbol]; ok {
		return Trade{}, false
	}
	if l.positions[symbol] <= 0 {
		return Trade{}, false
	}
	return l.sellAllLocked(symbol, date, series, reason), true
}

func (l *Ledger) sellAllLocked(symbol string, date time.Time, series map[string]*market.Series, reason string) Trade {
	qty := l.positions[symbol]
	price, _ := series[symbol].CloseOn(date)
	notional := qty * price
	l.cash += notional
	l.positions[symbol] = 0
	trade := Trade{Date: date, Action: Sell, Symbol: symbol, Qty: qty, Price: price, Notional: notional, Reason: reason}
	l.trades = append(l.trades, trade)
	return trade
}

// RebalanceTo moves the portfolio onto the target symbols in two phases.
// Phase 1 exits every held non-manual symbol not in targets at the day's
// close. Phase 2 splits the remaining cash evenly across targets, floors
// each share to the lot size, and buys; shares under the minimum notional
// and symbols without a positive price are skipped entirely. Cash is debited
// by the exact notional spent.
func (l *Ledger) RebalanceTo(targets []string, date time.Time, series map[string]*market.Series) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	inTarget := make(map[string]struct{}, len(targets))
	for _, sym := range targets {
		inTarget[sym] = struct{}{}
	}

	var trades []Trade
	for _, sym := range l.holdingsLocked() {
		if _, keep := inTarget[sym]; keep {
			continue
		}
		trades = append(trades, l.sellAllLocked(sym, date, series, ""))
	}

	if len(targets) == 0 || l.cash <= 0 {
		return trades
	}

	share := float64(int(l.cash/float64(len(targets))/l.lotSize)) * l.lotSize
	if share < l.minNotional {
		return trades
	}
	for _, sym := range targets {
		price, ok := series[sym].CloseOn(date)
		if !ok || price <= 0 {
			continue
		}
		qty := share / price
		l.cash -= share
		l.positions[sym] += qty
		trade := Trade{Date: date, Action: Buy, Symbol: sym, Qty: qty, Price: price, Notional: share}
		l.trades = append(l.trades, trade)
		trades = append(trades, trade)
	}
	return trades
}

// ApplyFill records an externally executed trade against the ledger. Live
// mode uses this to mirror exchange fills; buys debit the exact notional and
// sells credit it.
func (l *Ledger) ApplyFill(trade Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch trade.Action {
	case Buy:
		l.cash -= trade.Notional
		l.positions[trade.Symbol] += trade.Qty
	case Sell:
		l.cash += trade.Notional
		qty := l.positions[trade.Symbol] - trade.Qty
		if qty < 0 {
			qty = 0
		}
		l.positions[trade.Symbol] = qty
	}
	l.trades = append(l.trades, trade)
}
