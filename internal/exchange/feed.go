package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"upbitbot-go/internal/signal"
)

const defaultUpbitWebsocketURL = "wss://api.upbit.com/websocket/v1"

// Feed streams current prices for the tracked symbols over the Upbit
// websocket and caches the last trade per symbol for quoting.
type Feed struct {
	url        string
	log        zerolog.Logger
	mu         sync.RWMutex
	symbols    []string
	lastPrices map[string]float64
}

// FeedOption configures Feed construction parameters.
type FeedOption func(*Feed)

// WithWebsocketURL overrides the stream endpoint, used by tests.
func WithWebsocketURL(url string) FeedOption {
	return func(f *Feed) {
		if url != "" {
			f.url = url
		}
	}
}

// NewFeed constructs a feed for the given symbols.
func NewFeed(symbols []string, log zerolog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		url:        defaultUpbitWebsocketURL,
		log:        log,
		lastPrices: make(map[string]float64),
	}
	f.SetSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for
// determinism).
func (f *Feed) SetSymbols(symbols []string) {
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for sym := range unique {
		sorted = append(sorted, sym)
	}
	sort.Strings(sorted)

	f.mu.Lock()
	f.symbols = sorted
	f.mu.Unlock()
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Price returns the last observed trade price for a symbol.
func (f *Feed) Price(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.lastPrices[symbol]
	return px, ok
}

type upbitTickerEvent struct {
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
	Timestamp  int64   `json:"timestamp"`
}

// Run consumes the websocket until the context is canceled, reconnecting
// with exponential backoff on failure. Observed ticks are cached and, when
// out is non-nil, forwarded.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeStream(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("upbit feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeStream(ctx context.Context, out chan<- signal.Tick) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("upbit feed requires at least one symbol")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	subscription := []any{
		map[string]string{"ticket": uuid.NewString()},
		map[string]any{"type": "ticker", "codes": symbols},
		map[string]string{"format": "DEFAULT"},
	}
	if err := conn.WriteJSON(subscription); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info().Strs("symbols", symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var event upbitTickerEvent
		if err := json.Unmarshal(payload, &event); err != nil || event.Code == "" {
			continue
		}

		f.mu.Lock()
		f.lastPrices[event.Code] = event.TradePrice
		f.mu.Unlock()

		if out != nil {
			tick := signal.Tick{Symbol: event.Code, Price: event.TradePrice, Ts: time.UnixMilli(event.Timestamp).UTC()}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
