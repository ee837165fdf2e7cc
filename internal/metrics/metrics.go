// Package metrics exposes Prometheus instruments for copy trading and signals.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copytrade_transactions_total", Help: "Source transactions seen, by outcome"},
		[]string{"outcome"},
	)
	CopiedTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copytrade_trades_total", Help: "Trades replicated, by route"},
		[]string{"route"},
	)
	ReplicationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "copytrade_replication_failures_total", Help: "Replication attempts aborted, by stage"},
		[]string{"stage"},
	)
	ConnectedTraders = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "copytrade_connected_traders", Help: "Authorized trader connections"},
	)
	RealizedProfit = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "copytrade_realized_profit", Help: "Realized profit of settled replicated contracts this session"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted"},
		[]string{"market", "type"},
	)
	AutoTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_auto_trades_total", Help: "Auto trades fired from signals, by result"},
		[]string{"market", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsTotal,
		CopiedTradesTotal,
		ReplicationFailuresTotal,
		ConnectedTraders,
		RealizedProfit,
		SignalsTotal,
		AutoTradesTotal,
	)
}

// Serve starts a /metrics endpoint on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
