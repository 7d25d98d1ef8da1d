// Binary backtest replays the dual-momentum strategy over historical daily
// candles. The universe is the current market-cap ranking applied across the
// whole window, so results carry survivorship bias; treat them as a sanity
// check, not a forecast.
package main

import (
	"context"
	"encoding/json"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"upbitbot-go/internal/config"
	"upbitbot-go/internal/engine"
	"upbitbot-go/internal/exchange"
	"upbitbot-go/internal/market"
	"upbitbot-go/internal/momentum"
	"upbitbot-go/internal/portfolio"
	"upbitbot-go/internal/util"
)

func main() {
	log := util.NewLogger("info")

	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	start, err := time.Parse(market.DayFormat, cfg.Backtest.Start)
	if err != nil {
		log.Fatal().Err(err).Str("start", cfg.Backtest.Start).Msg("parse backtest start")
	}
	end, err := time.Parse(market.DayFormat, cfg.Backtest.End)
	if err != nil {
		log.Fatal().Err(err).Str("end", cfg.Backtest.End).Msg("parse backtest end")
	}
	if end.Before(start) {
		log.Fatal().Msg("backtest end precedes start")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Public endpoints only; no keys needed for candles and market caps.
	client := exchange.NewClient("", "", log,
		exchange.WithBaseURL(cfg.Upbit.BaseURL),
		exchange.WithFetchRate(cfg.Upbit.FetchRatePerSec),
	)
	caps := exchange.NewCoinGecko(log)

	markets, err := client.Markets(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch market list")
	}
	snapshot, err := caps.Snapshot(ctx, markets)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch market caps")
	}

	// Candles must reach back far enough to warm up the regime window and
	// the momentum lookback before the first simulated day.
	from := start.AddDate(0, 0, -(cfg.Trading.RegimeWindow + momentum.LookbackDays))
	series := map[string]*market.Series{}
	load := func(symbol string) {
		if _, ok := series[symbol]; ok {
			return
		}
		s, err := client.DailySeriesRange(ctx, symbol, from, end)
		if err != nil {
			log.Warn().Err(err).Str("sym", symbol).Msg("fetch candles, symbol excluded")
			return
		}
		series[symbol] = s
	}
	load(cfg.Trading.RegimeSymbol)
	for symbol := range snapshot {
		load(symbol)
	}

	capTable := make(engine.CapTable)
	for d := market.Day(start); !d.After(market.Day(end)); d = d.AddDate(0, 0, 1) {
		capTable[d.Format(market.DayFormat)] = snapshot
	}

	ledger := portfolio.NewLedger(cfg.Backtest.StartingCash, cfg.Trading.ManualHoldings)
	bt := engine.NewBacktester(engine.Params{
		RegimeSymbol: cfg.Trading.RegimeSymbol,
		RegimeWindow: cfg.Trading.RegimeWindow,
		UniverseSize: cfg.Trading.UniverseSize,
		MaxSlots:     cfg.Trading.MaxSlots,
		IntervalMins: cfg.Trading.RebalanceIntervalM,
	}, cfg.Exclusions(), ledger, log)

	history := bt.Run(start, end, capTable, series)
	if len(history) == 0 {
		log.Fatal().Msg("no evaluable days in the backtest window, check candle coverage")
	}

	if err := writeEquity(cfg.State.EquityPath, history); err != nil {
		log.Error().Err(err).Msg("write equity history")
	}
	journal, err := portfolio.NewJSONLJournal(cfg.State.JournalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open trade journal")
	}
	defer journal.Close()
	for _, trade := range ledger.Trades() {
		journal.Record(trade)
	}

	first, last := history[0], history[len(history)-1]
	log.Info().
		Time("from", first.Date).
		Time("to", last.Date).
		Float64("starting_cash", cfg.Backtest.StartingCash).
		Float64("final_value", last.Value).
		Float64("return_pct", (last.Value-cfg.Backtest.StartingCash)/cfg.Backtest.StartingCash*100).
		Int("trades", len(ledger.Trades())).
		Msg("backtest complete")
}

func writeEquity(path string, history []engine.EquityPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, point := range history {
		if err := enc.Encode(point); err != nil {
			return err
		}
	}
	return nil
}
