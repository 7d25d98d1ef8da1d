package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"upbitbot-go/internal/market"
)

const defaultCoinGeckoBaseURL = "https://api.coingecko.com"

// CoinGecko resolves market capitalizations for Upbit KRW symbols by
// matching base-currency tickers against the CoinGecko markets listing.
type CoinGecko struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// CoinGeckoOption configures CoinGecko construction.
type CoinGeckoOption func(*CoinGecko)

// WithCoinGeckoBaseURL overrides the API host, used by tests.
func WithCoinGeckoBaseURL(base string) CoinGeckoOption {
	return func(c *CoinGecko) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// NewCoinGecko builds a market-cap provider covering the top 300 coins.
func NewCoinGecko(log zerolog.Logger, opts ...CoinGeckoOption) *CoinGecko {
	c := &CoinGecko{
		baseURL: defaultCoinGeckoBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type coinGeckoMarket struct {
	Symbol    string  `json:"symbol"`
	MarketCap float64 `json:"market_cap"`
}

// Snapshot maps each requested KRW symbol to its market cap. Symbols with no
// CoinGecko listing are simply absent from the result.
func (c *CoinGecko) Snapshot(ctx context.Context, symbols []string) (market.CapSnapshot, error) {
	query := url.Values{
		"vs_currency": {"usd"},
		"order":       {"market_cap_desc"},
		"per_page":    {"300"},
		"page":        {"1"},
		"sparkline":   {"false"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/coins/markets?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch coingecko markets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("coingecko responded %d", resp.StatusCode)
	}
	var rows []coinGeckoMarket
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode coingecko markets: %w", err)
	}

	capsByTicker := make(map[string]float64, len(rows))
	for _, row := range rows {
		ticker := strings.ToUpper(row.Symbol)
		// Market-cap-desc ordering means the first listing for a ticker is
		// the canonical coin; duplicates are lower-cap lookalikes.
		if _, ok := capsByTicker[ticker]; !ok && row.MarketCap > 0 {
			capsByTicker[ticker] = row.MarketCap
		}
	}

	snapshot := make(market.CapSnapshot, len(symbols))
	for _, sym := range symbols {
		ticker := strings.ToUpper(strings.TrimPrefix(sym, "KRW-"))
		if cap, ok := capsByTicker[ticker]; ok {
			snapshot[sym] = cap
		}
	}
	return snapshot, nil
}
