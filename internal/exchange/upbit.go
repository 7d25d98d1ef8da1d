package exchange

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"upbitbot-go/internal/market"
)

const defaultUpbitBaseURL = "https://api.upbit.com"

// Client is a thin Upbit REST binding. Public market-data calls are
// throttled by a shared limiter so bulk candle fetches respect the provider
// quota; private calls are signed with a per-request JWT.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// ClientOption configures Client construction.
type ClientOption func(*Client)

// WithBaseURL overrides the REST endpoint, used by tests.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithFetchRate sets the public-API request rate limit per second.
func WithFetchRate(perSec float64) ClientOption {
	return func(c *Client) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// NewClient builds an Upbit client. Keys may be empty for public-only use.
func NewClient(accessKey, secretKey string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   defaultUpbitBaseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type upbitMarket struct {
	Market string `json:"market"`
}

// Markets lists the KRW spot symbols currently listed, sorted.
func (c *Client) Markets(ctx context.Context) ([]string, error) {
	var rows []upbitMarket
	if err := c.getPublic(ctx, "/v1/market/all", url.Values{"isDetails": {"false"}}, &rows); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.Market, "KRW-") {
			out = append(out, row.Market)
		}
	}
	sort.Strings(out)
	return out, nil
}

type upbitCandle struct {
	Market  string  `json:"market"`
	DateUTC string  `json:"candle_date_time_utc"`
	Open    float64 `json:"opening_price"`
	High    float64 `json:"high_price"`
	Low     float64 `json:"low_price"`
	Close   float64 `json:"trade_price"`
}

// maxCandlePage is the per-request candle cap the API enforces.
const maxCandlePage = 200

// DailySeries fetches the most recent count daily candles for a symbol. An
// unknown or delisted symbol comes back as an empty series.
func (c *Client) DailySeries(ctx context.Context, symbol string, count int) (*market.Series, error) {
	if count <= 0 || count > maxCandlePage {
		count = maxCandlePage
	}
	query := url.Values{"market": {symbol}, "count": {strconv.Itoa(count)}}
	var rows []upbitCandle
	if err := c.getPublic(ctx, "/v1/candles/days", query, &rows); err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}
	return market.NewSeries(symbol, c.parseCandles(symbol, rows, time.Time{})), nil
}

// DailySeriesRange fetches the daily candles covering [from, to] inclusive,
// paging backwards from the end of the window in maxCandlePage batches. This
// is the historical binding the backtest needs: candle requests are anchored
// to the window, not to the present.
func (c *Client) DailySeriesRange(ctx context.Context, symbol string, from, to time.Time) (*market.Series, error) {
	from = market.Day(from)
	// The `to` query bound is exclusive; advancing one day keeps the final
	// window day's candle in range.
	cursor := market.Day(to).AddDate(0, 0, 1)
	var bars []market.Bar
	for cursor.After(from) {
		query := url.Values{
			"market": {symbol},
			"count":  {strconv.Itoa(maxCandlePage)},
			"to":     {cursor.Format("2006-01-02T15:04:05") + "Z"},
		}
		var rows []upbitCandle
		if err := c.getPublic(ctx, "/v1/candles/days", query, &rows); err != nil {
			return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
		}
		if len(rows) == 0 {
			break
		}
		page := c.parseCandles(symbol, rows, from)
		bars = append(bars, page...)
		oldest := cursor
		for _, row := range rows {
			if date, err := time.Parse("2006-01-02T15:04:05", row.DateUTC); err == nil && date.UTC().Before(oldest) {
				oldest = date.UTC()
			}
		}
		if !oldest.Before(cursor) || len(rows) < maxCandlePage {
			break
		}
		cursor = oldest
	}
	return market.NewSeries(symbol, bars), nil
}

// parseCandles converts API rows into bars, dropping rows before the cutoff
// (zero cutoff keeps everything).
func (c *Client) parseCandles(symbol string, rows []upbitCandle, cutoff time.Time) []market.Bar {
	bars := make([]market.Bar, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02T15:04:05", row.DateUTC)
		if err != nil {
			c.log.Warn().Str("sym", symbol).Str("date", row.DateUTC).Msg("skipping candle with bad timestamp")
			continue
		}
		if !cutoff.IsZero() && date.UTC().Before(cutoff) {
			continue
		}
		bars = append(bars, market.Bar{Date: date.UTC(), Open: row.Open, High: row.High, Low: row.Low, Close: row.Close})
	}
	return bars
}

type upbitTicker struct {
	TradePrice float64 `json:"trade_price"`
}

// CurrentPrice returns the last traded price for a symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var rows []upbitTicker
	if err := c.getPublic(ctx, "/v1/ticker", url.Values{"markets": {symbol}}, &rows); err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("fetch ticker %s: empty response", symbol)
	}
	return rows[0].TradePrice, nil
}

type upbitBalance struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

// Balances returns the account's asset rows.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var rows []upbitBalance
	if err := c.doSigned(ctx, http.MethodGet, "/v1/accounts", nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make([]Balance, 0, len(rows))
	for _, row := range rows {
		amount, _ := strconv.ParseFloat(row.Balance, 64)
		avg, _ := strconv.ParseFloat(row.AvgBuyPrice, 64)
		out = append(out, Balance{Currency: row.Currency, Amount: amount, AvgBuyPrice: avg})
	}
	return out, nil
}

// BuyMarket places a market buy spending the given KRW notional.
func (c *Client) BuyMarket(ctx context.Context, symbol string, notional float64) error {
	params := url.Values{
		"market":   {symbol},
		"side":     {"bid"},
		"price":    {strconv.FormatFloat(notional, 'f', -1, 64)},
		"ord_type": {"price"},
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v1/orders", params, nil); err != nil {
		return fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return nil
}

// SellMarket places a market sell for the given quantity.
func (c *Client) SellMarket(ctx context.Context, symbol string, qty float64) error {
	params := url.Values{
		"market":   {symbol},
		"side":     {"ask"},
		"volume":   {strconv.FormatFloat(qty, 'f', -1, 64)},
		"ord_type": {"market"},
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v1/orders", params, nil); err != nil {
		return fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) getPublic(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	token, err := c.authToken(params)
	if err != nil {
		return err
	}
	target := c.baseURL + path
	if method == http.MethodGet && len(params) > 0 {
		target += "?" + params.Encode()
	}
	var req *http.Request
	if method == http.MethodPost {
		body, err := json.Marshal(flatten(params))
		if err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, target, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

// authToken builds the Upbit-style JWT: access key, UUID nonce, and a
// SHA512 hash of the query string when parameters are present.
func (c *Client) authToken(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		hash := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign auth token: %w", err)
	}
	return token, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upbit responded %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func flatten(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for key, vals := range params {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}
