// Package exchange hosts the collaborator bindings the engine talks to:
// Upbit market data and order placement, the CoinGecko market-cap source,
// and the websocket price feed. The engine itself never performs I/O; it
// consumes resolved data through the interfaces declared here.
package exchange

import (
	"context"
	"time"

	"upbitbot-go/internal/market"
)

// PriceProvider supplies historical daily series. An unavailable symbol
// yields an empty series, not an error.
type PriceProvider interface {
	DailySeries(ctx context.Context, symbol string, count int) (*market.Series, error)
}

// CapProvider supplies a market-cap snapshot for the tradeable universe.
type CapProvider interface {
	Snapshot(ctx context.Context, symbols []string) (market.CapSnapshot, error)
}

// Balance is one asset row of an exchange account.
type Balance struct {
	Currency    string
	Amount      float64
	AvgBuyPrice float64
}

// Fill reports an executed market order.
type Fill struct {
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
	Ts       time.Time `json:"ts"`
}

// OrderExecutor places market orders. Failures are non-fatal to the engine:
// it logs, notifies, and continues with the next symbol.
type OrderExecutor interface {
	BuyMarket(ctx context.Context, symbol string, notional float64) error
	SellMarket(ctx context.Context, symbol string, qty float64) error
}

// AccountReader exposes current balances for holdings reconciliation.
type AccountReader interface {
	Balances(ctx context.Context) ([]Balance, error)
}

// Quoter returns the most recent traded price for a symbol.
type Quoter interface {
	Price(symbol string) (float64, bool)
}
