package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"hftcore/internal/schema"
)

const namespace = "hftcore"

// Collector exports the engine's state to Prometheus. Every method is safe on
// a nil receiver so the core can run without it.
type Collector struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	fills       *prometheus.CounterVec
	integrity   *prometheus.CounterVec
	exits       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	position    *prometheus.GaugeVec
	realized    *prometheus.GaugeVec
	total       prometheus.Gauge
	dailyPnL    prometheus.Gauge
}

// NewCollector registers every metric on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by strategy, action and reason.",
		}, []string{"strategy", "action", "reason"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills applied to the ledger.",
		}, []string{"strategy", "side"}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_errors_total",
			Help:      "Boundary contract violations by operation.",
		}, []string{"op"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Close signals produced by exit engines.",
		}, []string{"strategy", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_transitions_total",
			Help:      "Governor state changes.",
		}, []string{"strategy", "kind"}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position",
			Help:      "Signed position per strategy.",
		}, []string{"strategy"}),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized P&L per strategy.",
		}, []string{"strategy"}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_position",
			Help:      "Aggregate signed position.",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl",
			Help:      "Cumulative realized P&L for the day.",
		}),
	}
	c.registry.MustRegister(
		c.decisions, c.fills, c.integrity, c.exits, c.transitions,
		c.position, c.realized, c.total, c.dailyPnL,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Decision(d schema.RiskDecision) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(d.StrategyID.String(), d.Action.String(), d.Reason.Label()).Inc()
}

func (c *Collector) Fill(f schema.Fill) {
	if c == nil {
		return
	}
	c.fills.WithLabelValues(f.StrategyID.String(), f.Side.String()).Inc()
}

func (c *Collector) IntegrityError(op string) {
	if c == nil {
		return
	}
	c.integrity.WithLabelValues(op).Inc()
}

func (c *Collector) Exit(id schema.StrategyID, reason string) {
	if c == nil {
		return
	}
	c.exits.WithLabelValues(id.String(), reason).Inc()
}

func (c *Collector) Transition(id schema.StrategyID, kind string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(id.String(), kind).Inc()
}

// Position publishes one strategy's position and realized P&L.
func (c *Collector) Position(id schema.StrategyID, pos schema.Quantity, realized decimal.Decimal) {
	if c == nil {
		return
	}
	c.position.WithLabelValues(id.String()).Set(float64(pos))
	c.realized.WithLabelValues(id.String()).Set(realized.InexactFloat64())
}

// Aggregate publishes the instrument-wide values.
func (c *Collector) Aggregate(total schema.Quantity, dailyPnL decimal.Decimal) {
	if c == nil {
		return
	}
	c.total.Set(float64(total))
	c.dailyPnL.Set(dailyPnL.InexactFloat64())
}
