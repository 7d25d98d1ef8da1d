package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"upbitbot-go/internal/exchange"
	"upbitbot-go/internal/holdings"
	"upbitbot-go/internal/lifecycle"
	"upbitbot-go/internal/market"
	"upbitbot-go/internal/metrics"
	"upbitbot-go/internal/momentum"
	"upbitbot-go/internal/notify"
	"upbitbot-go/internal/portfolio"
	"upbitbot-go/internal/rebalance"
	"upbitbot-go/internal/regime"
	"upbitbot-go/internal/risk"
	"upbitbot-go/internal/universe"
)

// Exchange is the live engine's view of the venue: market data, balances,
// and order placement.
type Exchange interface {
	exchange.PriceProvider
	exchange.AccountReader
	exchange.OrderExecutor
	Markets(ctx context.Context) ([]string, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// seriesBars is how much daily history the live loop pulls per symbol; it
// must cover the ATR window plus one and the momentum lookback.
const seriesBars = 30

// LiveDeps bundles the collaborators the live engine drives.
type LiveDeps struct {
	Exchange Exchange
	Caps     exchange.CapProvider
	Quoter   exchange.Quoter
	Notifier notify.Notifier
	Store    *holdings.Store
	Journal  portfolio.Journal
}

// Live runs the strategy against the real exchange on wall-clock ticks. One
// evaluation per tick; every mutation is flushed to the holdings store at
// the end of the tick so a restart resumes correctly.
type Live struct {
	log       zerolog.Logger
	params    Params
	limits    risk.Limits
	manual    map[string]struct{}
	filter    *regime.Filter
	selector  *universe.Selector
	ranker    *momentum.Ranker
	scheduler *rebalance.Scheduler
	rules     *lifecycle.Manager
	deps      LiveDeps

	state         regime.State
	lastRebalance time.Time
}

// NewLive wires a live engine. manualHoldings are full symbols (KRW-XXX)
// that the engine must never touch; exclusions must already include them.
func NewLive(params Params, exclusions, manualHoldings []string, limits risk.Limits, deps LiveDeps, log zerolog.Logger) *Live {
	params.applyDefaults()
	if limits.MinOrderNotional <= 0 {
		limits.MinOrderNotional = portfolio.DefaultMinNotional
	}
	if limits.DustThreshold <= 0 {
		limits.DustThreshold = 10000
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	manual := make(map[string]struct{}, len(manualHoldings))
	for _, sym := range manualHoldings {
		manual[sym] = struct{}{}
	}
	return &Live{
		log:       log,
		params:    params,
		limits:    limits,
		manual:    manual,
		filter:    regime.NewFilter(params.RegimeWindow),
		selector:  universe.NewSelector(exclusions),
		ranker:    momentum.NewRanker(),
		scheduler: rebalance.NewScheduler(params.IntervalMins, params.LossThreshold),
		rules:     lifecycle.NewManager(),
		deps:      deps,
		state:     regime.Active,
	}
}

// Run executes ticks at the given cadence until the context is canceled. An
// in-flight tick always completes; cancellation is honored between ticks.
func (e *Live) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Minute
	}
	e.startup(ctx)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.deps.Notifier.Notify("⚠️ trading bot shutting down")
			return ctx.Err()
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// startup loads persisted state, reconciles it against the exchange, and
// seeds the rebalance clock from the oldest recorded entry.
func (e *Live) startup(ctx context.Context) {
	if err := e.deps.Store.Load(); err != nil {
		e.log.Error().Err(err).Msg("loading holdings state, starting empty")
	}
	now := time.Now().UTC()
	e.syncHoldings(ctx, now)
	if oldest, ok := e.deps.Store.OldestEntry(); ok {
		e.lastRebalance = oldest
	} else {
		e.lastRebalance = now.Add(-e.scheduler.Interval())
	}
	e.deps.Notifier.Notify("🤖 trading bot started")
}

// Tick runs one full evaluation cycle. Errors never escape: every failure
// degrades to a skipped step and a notification.
func (e *Live) Tick(ctx context.Context, now time.Time) {
	metrics.TicksTotal.Inc()

	// Stop-loss / take-profit exits run on every tick, independent of the
	// rebalance cadence and of the regime reading.
	sold := e.checkExitThresholds(ctx, now)
	e.syncHoldings(ctx, now)

	reading := e.regimeReading(ctx)
	if reading == regime.Indeterminate {
		e.log.Warn().Msg("regime indeterminate, keeping prior state this tick")
		e.persist()
		return
	}

	if reading == regime.Downtrend {
		metrics.RegimeActive.Set(0)
		if e.state == regime.Active {
			e.deps.Notifier.Notify("😱 reference asset fell below its long moving average, selling everything and suspending")
			e.sellAllPositions(ctx, now)
			e.state = regime.Suspended
			e.lastRebalance = now
		}
		e.persist()
		return
	}

	metrics.RegimeActive.Set(1)
	if e.state == regime.Suspended {
		e.deps.Notifier.Notify("✅ reference asset recovered above its long moving average, resuming trading")
		e.state = regime.Active
		e.executeTrades(ctx, now, sold)
		e.lastRebalance = now
		e.persist()
		return
	}

	count := len(e.heldPositions(ctx))
	switch {
	case len(sold) == 0 && count < e.params.MaxSlots:
		e.log.Info().Int("held", count).Int("slots", e.params.MaxSlots).Msg("open slots available, trading")
		e.executeTrades(ctx, now, sold)
	default:
		if due, reason := e.rebalanceDue(ctx, now); due {
			e.deps.Notifier.Notify(fmt.Sprintf("🔄 rebalance due: %s", reason))
			metrics.RebalancesTotal.WithLabelValues(string(reason)).Inc()
			e.executeTrades(ctx, now, sold)
			e.lastRebalance = now
		}
	}
	e.persist()
}

func (e *Live) persist() {
	if err := e.deps.Store.Save(); err != nil {
		e.log.Error().Err(err).Msg("persisting holdings state")
	}
}

func (e *Live) regimeReading(ctx context.Context) regime.Reading {
	series, err := e.deps.Exchange.DailySeries(ctx, e.params.RegimeSymbol, e.params.RegimeWindow)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("candles").Inc()
		e.log.Warn().Err(err).Msg("fetching reference series")
		return regime.Indeterminate
	}
	return e.filter.Evaluate(series)
}

type heldPosition struct {
	Symbol string
	Qty    float64
	Value  float64
}

// heldPositions lists the automated positions worth more than dust, sorted
// by symbol for deterministic iteration.
func (e *Live) heldPositions(ctx context.Context) []heldPosition {
	balances, err := e.deps.Exchange.Balances(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("balances").Inc()
		e.log.Warn().Err(err).Msg("fetching balances")
		return nil
	}
	var out []heldPosition
	for _, bal := range balances {
		if bal.Currency == "KRW" || bal.Amount <= 0 {
			continue
		}
		sym := "KRW-" + bal.Currency
		if _, ok := e.manual[sym]; ok {
			continue
		}
		value := bal.Amount * bal.AvgBuyPrice
		if e.limits.Dust(value) {
			continue
		}
		out = append(out, heldPosition{Symbol: sym, Qty: bal.Amount, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *Live) cashBalance(ctx context.Context) float64 {
	balances, err := e.deps.Exchange.Balances(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("balances").Inc()
		e.log.Warn().Err(err).Msg("fetching cash balance")
		return 0
	}
	for _, bal := range balances {
		if bal.Currency == "KRW" {
			return bal.Amount
		}
	}
	return 0
}

// syncHoldings reconciles the persisted records with what the account
// actually holds right now.
func (e *Live) syncHoldings(ctx context.Context, now time.Time) {
	positions := e.heldPositions(ctx)
	current := make([]string, 0, len(positions))
	for _, pos := range positions {
		current = append(current, pos.Symbol)
	}
	e.deps.Store.Sync(current, now)
}

// currentPrice prefers the websocket cache and falls back to REST.
func (e *Live) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	if e.deps.Quoter != nil {
		if px, ok := e.deps.Quoter.Price(symbol); ok && px > 0 {
			return px, true
		}
	}
	px, err := e.deps.Exchange.CurrentPrice(ctx, symbol)
	if err != nil || px <= 0 {
		metrics.FetchErrors.WithLabelValues("ticker").Inc()
		e.log.Warn().Err(err).Str("sym", symbol).Msg("fetching current price")
		return 0, false
	}
	return px, true
}

// checkExitThresholds force-sells any position trading at or beyond its
// recorded stop-loss or take-profit level and returns the symbols sold.
func (e *Live) checkExitThresholds(ctx context.Context, now time.Time) []string {
	var sold []string
	for _, pos := range e.heldPositions(ctx) {
		rec, ok := e.deps.Store.Get(pos.Symbol)
		if !ok || rec.StopLoss == nil || rec.TakeProfit == nil {
			continue
		}
		price, ok := e.currentPrice(ctx, pos.Symbol)
		if !ok {
			continue
		}
		var reason string
		switch {
		case price <= *rec.StopLoss:
			reason = "stop-loss"
		case price >= *rec.TakeProfit:
			reason = "take-profit"
		default:
			continue
		}
		e.deps.Notifier.Notify(fmt.Sprintf("⚠️ %s %s triggered at %.0f (stop %.0f / take %.0f)",
			pos.Symbol, reason, price, *rec.StopLoss, *rec.TakeProfit))
		if !e.sellPosition(ctx, now, pos, price, reason) {
			continue
		}
		sold = append(sold, pos.Symbol)
	}
	return sold
}

// sellPosition submits a full market sell and clears the holding record. A
// failed order leaves the record in place for the next tick.
func (e *Live) sellPosition(ctx context.Context, now time.Time, pos heldPosition, price float64, reason string) bool {
	if err := e.deps.Exchange.SellMarket(ctx, pos.Symbol, pos.Qty); err != nil {
		e.log.Error().Err(err).Str("sym", pos.Symbol).Msg("market sell failed")
		e.deps.Notifier.Notify(fmt.Sprintf("❌ %s sell failed: %v", pos.Symbol, err))
		return false
	}
	metrics.OrdersTotal.WithLabelValues(pos.Symbol, string(portfolio.Sell)).Inc()
	if e.deps.Journal != nil {
		e.deps.Journal.Record(portfolio.Trade{
			Date: now, Action: portfolio.Sell, Symbol: pos.Symbol,
			Qty: pos.Qty, Price: price, Notional: pos.Qty * price, Reason: reason,
		})
	}
	e.deps.Store.Clear(pos.Symbol)
	e.deps.Notifier.Notify(fmt.Sprintf("✅ %s sold (%s)", pos.Symbol, reason))
	return true
}

// sellAllPositions liquidates every automated position, used on regime
// suspension. Per-symbol failures are reported and skipped.
func (e *Live) sellAllPositions(ctx context.Context, now time.Time) {
	for _, pos := range e.heldPositions(ctx) {
		price, _ := e.currentPrice(ctx, pos.Symbol)
		e.sellPosition(ctx, now, pos, price, "regime suspension")
	}
}

// rebalanceDue checks the interval and trailing-loss triggers against the
// currently recorded holdings.
func (e *Live) rebalanceDue(ctx context.Context, now time.Time) (bool, rebalance.Reason) {
	held := e.deps.Store.Symbols()
	series := e.fetchSeries(ctx, held)
	return e.scheduler.Due(now, e.lastRebalance, held, series)
}

func (e *Live) fetchSeries(ctx context.Context, symbols []string) map[string]*market.Series {
	out := make(map[string]*market.Series, len(symbols))
	for _, sym := range symbols {
		series, err := e.deps.Exchange.DailySeries(ctx, sym, seriesBars)
		if err != nil {
			metrics.FetchErrors.WithLabelValues("candles").Inc()
			e.log.Warn().Err(err).Str("sym", sym).Msg("fetching series")
			continue
		}
		out[sym] = series
	}
	return out
}

// executeTrades is the live trading pass: drop positions past their holding
// limits, then fill open slots from the momentum ranking, entering only on a
// volatility breakout. alreadySold symbols are not rebought this tick.
func (e *Live) executeTrades(ctx context.Context, now time.Time, alreadySold []string) {
	skip := make(map[string]struct{}, len(alreadySold))
	for _, sym := range alreadySold {
		skip[sym] = struct{}{}
	}

	positions := e.heldPositions(ctx)
	for _, pos := range positions {
		rec, ok := e.deps.Store.Get(pos.Symbol)
		if !ok {
			continue
		}
		if e.rules.ShouldKeep(rec.EnteredAt, rec.Consecutive, now) {
			continue
		}
		e.deps.Notifier.Notify(fmt.Sprintf("🔄 %s exceeded its holding limits, selling", pos.Symbol))
		price, _ := e.currentPrice(ctx, pos.Symbol)
		if e.sellPosition(ctx, now, pos, price, "holding limit") {
			skip[pos.Symbol] = struct{}{}
		}
	}

	held := make(map[string]struct{})
	for _, pos := range e.heldPositions(ctx) {
		held[pos.Symbol] = struct{}{}
	}
	slots := e.params.MaxSlots - len(held)
	cash := e.cashBalance(ctx)
	if slots <= 0 || cash < e.limits.MinOrderNotional {
		return
	}

	targets := e.rankTargets(ctx, now)
	for _, sym := range targets {
		if slots <= 0 {
			break
		}
		if _, ok := skip[sym]; ok {
			continue
		}
		if _, ok := held[sym]; ok {
			continue
		}
		series, err := e.deps.Exchange.DailySeries(ctx, sym, seriesBars)
		if err != nil || !e.rules.ShouldEnter(series) {
			continue
		}

		cash = e.cashBalance(ctx)
		if cash < e.limits.MinOrderNotional {
			break
		}
		// Live sizing: thousand-floored slot share scaled by 990 as a
		// slippage margin, never below the exchange minimum.
		invest := math.Floor(cash/float64(slots)/1000) * 990
		if invest < e.limits.MinOrderNotional {
			invest = e.limits.MinOrderNotional
		}
		if invest > cash {
			break
		}
		stop, take, ok := e.rules.RiskLevels(series)
		if !ok {
			continue
		}
		e.deps.Notifier.Notify(fmt.Sprintf("🛒 buying %s for %.0f KRW (%d slots open)", sym, invest, slots))
		if err := e.deps.Exchange.BuyMarket(ctx, sym, invest); err != nil {
			e.log.Error().Err(err).Str("sym", sym).Msg("market buy failed")
			e.deps.Notifier.Notify(fmt.Sprintf("❌ %s buy failed: %v", sym, err))
			continue
		}
		metrics.OrdersTotal.WithLabelValues(sym, string(portfolio.Buy)).Inc()
		last, _ := series.Last()
		if e.deps.Journal != nil && last.Close > 0 {
			e.deps.Journal.Record(portfolio.Trade{
				Date: now, Action: portfolio.Buy, Symbol: sym,
				Qty: invest / last.Close, Price: last.Close, Notional: invest,
			})
		}
		e.deps.Store.MarkEntry(sym, now, stop, take)
		e.deps.Notifier.Notify(fmt.Sprintf("✅ %s bought | stop %.0f / take %.0f", sym, stop, take))
		held[sym] = struct{}{}
		slots--
	}
}

// rankTargets builds the cap-ranked universe and orders it by momentum.
// Any provider failure yields an empty target list for this cycle.
func (e *Live) rankTargets(ctx context.Context, now time.Time) []string {
	markets, err := e.deps.Exchange.Markets(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("markets").Inc()
		e.log.Warn().Err(err).Msg("fetching market list")
		return nil
	}
	snapshot, err := e.deps.Caps.Snapshot(ctx, markets)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("caps").Inc()
		e.log.Warn().Err(err).Msg("fetching market caps")
		e.deps.Notifier.Notify(fmt.Sprintf("❌ market-cap lookup failed: %v", err))
		return nil
	}
	top := e.selector.TopByMarketCap(snapshot, e.params.UniverseSize)
	if len(top) == 0 {
		e.log.Warn().Msg("empty universe, no targets this cycle")
		return nil
	}
	e.deps.Notifier.Notify(fmt.Sprintf("📊 top market caps: %s", strings.Join(top, ", ")))

	series := e.fetchSeries(ctx, top)
	return e.ranker.Top(top, series, market.Day(now), e.params.UniverseSize)
}
