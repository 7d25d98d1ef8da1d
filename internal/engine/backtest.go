// Package engine orchestrates the strategy components into the two driving
// loops: a calendar-day backtest and the wall-clock live trader. Both share
// the regime state machine; they differ in clock source and in the live
// loop's per-position lifecycle rules.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"upbitbot-go/internal/market"
	"upbitbot-go/internal/metrics"
	"upbitbot-go/internal/momentum"
	"upbitbot-go/internal/portfolio"
	"upbitbot-go/internal/rebalance"
	"upbitbot-go/internal/regime"
	"upbitbot-go/internal/universe"
)

// CapTable is a precomputed market-cap history keyed by calendar day, the
// simulation counterpart of the live snapshot provider.
type CapTable map[string]market.CapSnapshot

// On returns the snapshot for a calendar day, empty when absent.
func (t CapTable) On(date time.Time) market.CapSnapshot {
	return t[market.Day(date).Format(market.DayFormat)]
}

// EquityPoint is one sample of the portfolio-value history.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Params are the strategy knobs shared by both loops.
type Params struct {
	RegimeSymbol  string
	RegimeWindow  int
	UniverseSize  int
	MaxSlots      int
	IntervalMins  int
	LossThreshold float64
}

func (p *Params) applyDefaults() {
	if p.RegimeSymbol == "" {
		p.RegimeSymbol = "KRW-BTC"
	}
	if p.RegimeWindow <= 0 {
		p.RegimeWindow = regime.DefaultWindow
	}
	if p.UniverseSize <= 0 {
		p.UniverseSize = 20
	}
	if p.MaxSlots <= 0 {
		p.MaxSlots = 3
	}
	if p.IntervalMins <= 0 {
		p.IntervalMins = 10080
	}
	if p.LossThreshold >= 0 {
		p.LossThreshold = rebalance.DefaultLossThreshold
	}
}

// Backtester replays the strategy over historical data one calendar day at a
// time. All inputs are resolved up front; the run itself performs no I/O.
type Backtester struct {
	log       zerolog.Logger
	params    Params
	filter    *regime.Filter
	selector  *universe.Selector
	ranker    *momentum.Ranker
	scheduler *rebalance.Scheduler
	ledger    *portfolio.Ledger

	state         regime.State
	lastRebalance time.Time
	history       []EquityPoint
}

// NewBacktester wires a backtest run over the given ledger. exclusions must
// already merge configured excludes with manual holdings.
func NewBacktester(params Params, exclusions []string, ledger *portfolio.Ledger, log zerolog.Logger) *Backtester {
	params.applyDefaults()
	return &Backtester{
		log:       log,
		params:    params,
		filter:    regime.NewFilter(params.RegimeWindow),
		selector:  universe.NewSelector(exclusions),
		ranker:    momentum.NewRanker(),
		scheduler: rebalance.NewScheduler(params.IntervalMins, params.LossThreshold),
		ledger:    ledger,
		state:     regime.Active,
	}
}

// History returns the recorded equity curve.
func (b *Backtester) History() []EquityPoint {
	out := make([]EquityPoint, len(b.history))
	copy(out, b.history)
	return out
}

// Ledger exposes the backtest portfolio for inspection after a run.
func (b *Backtester) Ledger() *portfolio.Ledger { return b.ledger }

// Run walks each day from start through end inclusive, evaluating the
// regime, rebalancing when due, and recording the portfolio value.
func (b *Backtester) Run(start, end time.Time, caps CapTable, series map[string]*market.Series) []EquityPoint {
	b.lastRebalance = start.Add(-b.scheduler.Interval())
	for date := market.Day(start); !date.After(market.Day(end)); date = date.AddDate(0, 0, 1) {
		b.step(date, caps, series)
	}
	return b.History()
}

// step runs one daily evaluation. An indeterminate regime reading skips the
// day entirely: no state change, no trade, no history sample.
func (b *Backtester) step(date time.Time, caps CapTable, series map[string]*market.Series) {
	metrics.TicksTotal.Inc()
	reading := b.filter.EvaluateAt(series[b.params.RegimeSymbol], date)
	if reading == regime.Indeterminate {
		b.log.Debug().Time("date", date).Msg("regime indeterminate, skipping day")
		return
	}

	switch {
	case reading == regime.Downtrend:
		if b.state == regime.Active {
			b.log.Info().Time("date", date).Msg("reference fell below its moving average, liquidating and suspending")
			b.ledger.LiquidateAll(date, series)
			b.state = regime.Suspended
			b.lastRebalance = date
		}
		metrics.RegimeActive.Set(0)

	case b.state == regime.Suspended:
		// Resume: re-enter the market immediately.
		b.log.Info().Time("date", date).Msg("reference recovered above its moving average, resuming")
		b.state = regime.Active
		b.rebalanceNow(date, rebalance.ReasonInterval, caps, series)
		b.lastRebalance = date
		metrics.RegimeActive.Set(1)

	default:
		metrics.RegimeActive.Set(1)
		if due, reason := b.scheduler.Due(date, b.lastRebalance, b.ledger.Holdings(), series); due {
			b.log.Info().Time("date", date).Str("reason", string(reason)).Msg("rebalancing")
			b.rebalanceNow(date, reason, caps, series)
			b.lastRebalance = date
		}
	}

	b.history = append(b.history, EquityPoint{Date: date, Value: b.ledger.Valuation(date, series)})
}

// rebalanceNow ranks the universe and re-strikes the portfolio. An empty cap
// snapshot means no rebalance is possible this cycle.
func (b *Backtester) rebalanceNow(date time.Time, reason rebalance.Reason, caps CapTable, series map[string]*market.Series) {
	top := b.selector.TopByMarketCap(caps.On(date), b.params.UniverseSize)
	if len(top) == 0 {
		b.log.Warn().Time("date", date).Msg("empty universe, skipping rebalance")
		return
	}
	targets := b.ranker.Top(top, series, date, b.params.MaxSlots)
	trades := b.ledger.RebalanceTo(targets, date, series)
	metrics.RebalancesTotal.WithLabelValues(string(reason)).Inc()
	for _, trade := range trades {
		metrics.OrdersTotal.WithLabelValues(trade.Symbol, string(trade.Action)).Inc()
		b.log.Info().
			Time("date", date).
			Str("action", string(trade.Action)).
			Str("sym", trade.Symbol).
			Float64("qty", trade.Qty).
			Float64("notional", trade.Notional).
			Msg("trade")
	}
}
