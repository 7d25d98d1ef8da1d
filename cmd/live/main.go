// Binary live runs the dual-momentum strategy against a real Upbit account.
// Exchange keys come from the environment (UPBIT_ACCESS_KEY and
// UPBIT_SECRET_KEY), loaded from .env when present.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upbitbot-go/internal/config"
	"upbitbot-go/internal/engine"
	"upbitbot-go/internal/exchange"
	"upbitbot-go/internal/holdings"
	"upbitbot-go/internal/metrics"
	"upbitbot-go/internal/notify"
	"upbitbot-go/internal/portfolio"
	"upbitbot-go/internal/risk"
	"upbitbot-go/internal/util"
)

func main() {
	log := util.NewLogger("info")
	_ = godotenv.Load()

	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	accessKey := os.Getenv("UPBIT_ACCESS_KEY")
	secretKey := os.Getenv("UPBIT_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		log.Fatal().Msg("UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY must be set")
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := exchange.NewClient(accessKey, secretKey, log,
		exchange.WithBaseURL(cfg.Upbit.BaseURL),
		exchange.WithFetchRate(cfg.Upbit.FetchRatePerSec),
	)
	caps := exchange.NewCoinGecko(log)

	// The feed quotes held symbols for the stop-loss / take-profit checks;
	// the subscription follows the holdings store.
	feed := exchange.NewFeed([]string{cfg.Trading.RegimeSymbol}, log,
		exchange.WithWebsocketURL(cfg.Upbit.WebsocketURL))
	go func() {
		if err := feed.Run(ctx, nil); err != nil {
			log.Error().Err(err).Msg("price feed stopped")
		}
	}()

	var notifier notify.Notifier = notify.Nop{}
	botToken := firstNonEmpty(os.Getenv("TELEGRAM_BOT_TOKEN"), cfg.Telegram.BotToken)
	channelID := firstNonEmpty(os.Getenv("TELEGRAM_CHANNEL_ID"), cfg.Telegram.ChannelID)
	if botToken != "" && channelID != "" {
		notifier = notify.NewTelegram(botToken, channelID, log)
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	store := holdings.NewStore(cfg.State.HoldingsPath)
	journal, err := portfolio.NewJSONLJournal(cfg.State.JournalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open trade journal")
	}
	defer journal.Close()

	go followHoldings(ctx, feed, store, cfg.Trading.RegimeSymbol)

	params := engine.Params{
		RegimeSymbol: cfg.Trading.RegimeSymbol,
		RegimeWindow: cfg.Trading.RegimeWindow,
		UniverseSize: cfg.Trading.UniverseSize,
		MaxSlots:     cfg.Trading.MaxSlots,
		IntervalMins: cfg.Trading.RebalanceIntervalM,
	}
	limits := risk.Limits{
		MinOrderNotional: portfolio.DefaultMinNotional,
		DustThreshold:    cfg.Trading.DustThreshold,
	}
	live := engine.NewLive(params, cfg.Exclusions(), cfg.Trading.ManualHoldings, limits, engine.LiveDeps{
		Exchange: client,
		Caps:     caps,
		Quoter:   feed,
		Notifier: notifier,
		Store:    store,
		Journal:  journal,
	}, log)

	log.Info().
		Int("slots", cfg.Trading.MaxSlots).
		Int("universe", cfg.Trading.UniverseSize).
		Str("regime", cfg.Trading.RegimeSymbol).
		Msg("live engine started")
	if err := live.Run(ctx, time.Minute); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("live engine stopped")
	}
	log.Info().Msg("shutting down")
}

// followHoldings keeps the websocket subscription aligned with what the
// account currently holds, plus the regime reference.
func followHoldings(ctx context.Context, feed *exchange.Feed, store *holdings.Store, regimeSymbol string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feed.SetSymbols(append(store.Symbols(), regimeSymbol))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
