package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"hftcore/internal/schema"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncSignal()
	m.IncSignal()
	m.ObserveDecision(schema.RiskDecision{Action: schema.RiskActionAllow})
	m.ObserveDecision(schema.RiskDecision{Action: schema.RiskActionDeny, Reason: schema.RiskReasonStrategyLimit})
	m.IncFill()
	m.ObserveRiskEval(2 * time.Microsecond)
	m.ObserveRiskEval(4 * time.Microsecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Signals)
	assert.Equal(t, uint64(1), s.Allowed)
	assert.Equal(t, uint64(1), s.Denied[schema.RiskReasonStrategyLimit])
	assert.Equal(t, uint64(1), s.DeniedTotal())
	assert.Equal(t, uint64(1), s.Fills)
	assert.Equal(t, LatencySnapshot{Count: 2, Min: 2 * time.Microsecond, Max: 4 * time.Microsecond, Avg: 3 * time.Microsecond}, s.RiskEvalLatency)
}

func TestNilMetricsAndCollector(t *testing.T) {
	var m *Metrics
	m.IncFill()
	assert.Equal(t, Snapshot{}, m.Snapshot())

	var c *Collector
	c.Fill(schema.Fill{})
	c.Aggregate(1, decimal.Zero)
	assert.Nil(t, c.Registry())
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.Decision(schema.RiskDecision{StrategyID: schema.StrategyTrendGrid, Action: schema.RiskActionDeny, Reason: schema.RiskReasonAggregateLimit})
	c.Decision(schema.RiskDecision{StrategyID: schema.StrategyTrendGrid, Action: schema.RiskActionDeny, Reason: schema.RiskReasonAggregateLimit})
	c.Position(schema.StrategyMarketMaking, -100, decimal.NewFromInt(25))
	c.Aggregate(300, decimal.NewFromInt(-5))

	assert.InDelta(t, 2, testutil.ToFloat64(c.decisions.WithLabelValues("trend_grid", "deny", "aggregate_limit")), 0)
	assert.InDelta(t, -100, testutil.ToFloat64(c.position.WithLabelValues("market_making")), 0)
	assert.InDelta(t, 25, testutil.ToFloat64(c.realized.WithLabelValues("market_making")), 0)
	assert.InDelta(t, 300, testutil.ToFloat64(c.total), 0)
	assert.InDelta(t, -5, testutil.ToFloat64(c.dailyPnL), 0)
}

func TestSignalIDsIncrease(t *testing.T) {
	g := NewSignalIDs(10)
	assert.Equal(t, uint64(11), g.Next())
	assert.Equal(t, uint64(12), g.Next())

	var nilGen *SignalIDs
	assert.Zero(t, nilGen.Next())
}
