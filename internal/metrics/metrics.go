package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of strategy evaluation cycles"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	RebalancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rebalances_total", Help: "Rebalances executed"},
		[]string{"reason"},
	)
	RegimeActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "regime_active", Help: "1 while the trend regime allows trading, 0 while suspended"},
	)
	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "notify_failures_total", Help: "Notification deliveries that failed"},
	)
	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_errors_total", Help: "Provider fetch failures"},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, RebalancesTotal, RegimeActive, NotifyFailures, FetchErrors)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
