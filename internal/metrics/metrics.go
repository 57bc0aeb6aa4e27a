// Package metrics exposes Prometheus instrumentation for the trading
// engine. The handle is passed into components at construction; a nil
// handle disables collection, which keeps tests and the backtester free of
// a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics is the set of series the engine updates during operation.
type Metrics struct {
	ordersPlaced   *prometheus.CounterVec
	ordersCanceled prometheus.Counter
	fills          *prometheus.CounterVec
	fillVolume     *prometheus.CounterVec
	missedFills    prometheus.Counter
	resyncs        prometheus.Counter
	openOrders     prometheus.Gauge
	balances       *prometheus.GaugeVec
	orderDepth     prometheus.Gauge
	costBasis      prometheus.Gauge
}

// New registers the engine series with the given registerer. A nil
// registerer keeps the series unregistered, for tests and the backtester.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_placed_total",
			Help: "Orders accepted by the exchange",
		}, []string{"side", "type"}),
		ordersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_orders_canceled_total",
			Help: "Orders canceled",
		}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fills_total",
			Help: "Fill events applied to the ledger",
		}, []string{"side"}),
		fillVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fill_volume_base",
			Help: "Filled size in base currency",
		}, []string{"side"}),
		missedFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_missed_fills_total",
			Help: "Fills the stream never delivered, recovered by polling",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_resyncs_total",
			Help: "Forced full resyncs of balances and orders",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_orders",
			Help: "Orders currently tracked in the ledger",
		}),
		balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_balance_available",
			Help: "Available balance per currency",
		}, []string{"currency"}),
		orderDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_order_depth",
			Help: "Completed buy legs since last full liquidation",
		}),
		costBasis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_cost_basis",
			Help: "Average quote paid per unit of base currency held",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ordersPlaced, m.ordersCanceled, m.fills, m.fillVolume,
			m.missedFills, m.resyncs, m.openOrders, m.balances, m.orderDepth, m.costBasis)
	}
	return m
}

func (m *Metrics) OrderPlaced(side, orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(side, orderType).Inc()
}

func (m *Metrics) OrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
}

func (m *Metrics) Fill(side string, size decimal.Decimal) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(side).Inc()
	m.fillVolume.WithLabelValues(side).Add(size.InexactFloat64())
}

func (m *Metrics) MissedFill() {
	if m == nil {
		return
	}
	m.missedFills.Inc()
}

func (m *Metrics) ResyncForced() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

func (m *Metrics) OpenOrders(n int) {
	if m == nil {
		return
	}
	m.openOrders.Set(float64(n))
}

func (m *Metrics) Balance(currency string, available decimal.Decimal) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(currency).Set(available.InexactFloat64())
}

func (m *Metrics) OrderDepth(depth int) {
	if m == nil {
		return
	}
	m.orderDepth.Set(float64(depth))
}

func (m *Metrics) CostBasis(basis decimal.Decimal) {
	if m == nil {
		return
	}
	m.costBasis.Set(basis.InexactFloat64())
}
