package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"upbitbot-go/internal/signal"
)

func TestFeedSetSymbolsDeduplicatesAndSorts(t *testing.T) {
	feed := NewFeed([]string{"KRW-ETH", "KRW-BTC", " KRW-ETH ", ""}, zerolog.Nop())
	got := feed.snapshotSymbols()
	if len(got) != 2 || got[0] != "KRW-BTC" || got[1] != "KRW-ETH" {
		t.Fatalf("unexpected symbols: %v", got)
	}
}

func TestFeedCachesTickerPrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		// Consume the subscription request, then emit one ticker event.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		payload := `{"type":"ticker","code":"KRW-BTC","trade_price":52000000,"timestamp":1700000000000}`
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(payload))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed([]string{"KRW-BTC"}, zerolog.Nop(), WithWebsocketURL(wsURL))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ticks := make(chan signal.Tick, 1)
	go func() { _ = feed.Run(ctx, ticks) }()

	select {
	case tick := <-ticks:
		if tick.Symbol != "KRW-BTC" || tick.Price != 52000000 {
			t.Fatalf("unexpected tick: %+v", tick)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for tick")
	}

	price, ok := feed.Price("KRW-BTC")
	if !ok || price != 52000000 {
		t.Fatalf("expected cached price, got %.0f ok=%v", price, ok)
	}
}
