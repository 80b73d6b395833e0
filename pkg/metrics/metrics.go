// Package metrics exposes Prometheus collectors for the matching service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor collects engine and API metrics. It satisfies engine.Observer.
type Monitor struct {
	registry *prometheus.Registry

	ordersAccepted *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	tradesTotal    *prometheus.CounterVec
	tradedVolume   *prometheus.CounterVec
	selfTradeDrops *prometheus.CounterVec
	matchDuration  *prometheus.HistogramVec
	matchTrades    *prometheus.HistogramVec
	bookDepth      *prometheus.GaugeVec

	commentsPosted prometheus.Counter
	wsClients      prometheus.Gauge
}

func New(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,
		ordersAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_accepted_total",
			Help:      "Orders accepted into the book.",
		}, []string{"market"}),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Submissions rejected at the boundary.",
		}, []string{"reason"}),
		tradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}, []string{"market"}),
		tradedVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_total",
			Help:      "Total units traded.",
		}, []string{"market"}),
		selfTradeDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_trade_removals_total",
			Help:      "Resting buy orders removed by self-trade resolution.",
		}, []string{"market"}),
		matchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Crossing loop wall time per invocation.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"market"}),
		matchTrades: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_trades_per_loop",
			Help:      "Trades produced per crossing loop.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"market"}),
		bookDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_depth_orders",
			Help:      "Resting orders per market after the last match.",
		}, []string{"market"}),
		commentsPosted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "newsfeed_comments_total",
			Help:      "Comments posted to the newsfeed.",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
	return m
}

// engine.Observer implementation.

func (m *Monitor) OrderAccepted(marketID string) {
	m.ordersAccepted.WithLabelValues(marketID).Inc()
}

func (m *Monitor) OrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) TradeExecuted(marketID string, volume int64) {
	m.tradesTotal.WithLabelValues(marketID).Inc()
	m.tradedVolume.WithLabelValues(marketID).Add(float64(volume))
}

func (m *Monitor) SelfTradeRemoval(marketID string) {
	m.selfTradeDrops.WithLabelValues(marketID).Inc()
}

func (m *Monitor) MatchLoop(marketID string, d time.Duration, trades int) {
	m.matchDuration.WithLabelValues(marketID).Observe(d.Seconds())
	m.matchTrades.WithLabelValues(marketID).Observe(float64(trades))
}

func (m *Monitor) BookDepth(marketID string, orders int) {
	m.bookDepth.WithLabelValues(marketID).Set(float64(orders))
}

// API-side hooks.

func (m *Monitor) CommentPosted()  { m.commentsPosted.Inc() }
func (m *Monitor) WSConnected()    { m.wsClients.Inc() }
func (m *Monitor) WSDisconnected() { m.wsClients.Dec() }

// Handler serves the /metrics endpoint for this registry.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on its own listener. Runs in a goroutine of the
// caller's choosing.
func (m *Monitor) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
