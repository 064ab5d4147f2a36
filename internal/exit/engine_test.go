package exit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
)

func openEngine(cfg Config, pos schema.Quantity, entry schema.Price) *Engine {
	if cfg.TickSize == 0 {
		cfg.TickSize = 1
	}
	e := NewEngine("[test]", cfg)
	e.Sync(pos, entry)
	return e
}

func feed(t *testing.T, e *Engine, prices ...schema.Price) (Action, bool) {
	t.Helper()
	for i, p := range prices {
		if a, ok := e.Evaluate(p); ok {
			require.Equal(t, len(prices)-1, i, "unexpected exit at %v: %s", p, a.Reason)
			return a, true
		}
	}
	return Action{}, false
}

func TestStopLossWinsOverDynamic(t *testing.T) {
	e := openEngine(Config{
		StopLossTicks:               5,
		Dynamic:                     true,
		DynamicProfitThresholdTicks: -10,
		DynamicReversalTicks:        1,
	}, 10, 100)

	a, ok := feed(t, e, 100, 94)
	require.True(t, ok)
	assert.Equal(t, schema.ExitStopLoss, a.Reason)
	assert.Equal(t, schema.OrderSideSell, a.Side)
	assert.Equal(t, schema.Quantity(10), a.Qty)
}

func TestStopLossWinsOverTrailing(t *testing.T) {
	e := openEngine(Config{
		StopLossTicks:           5,
		Trailing:                true,
		TrailingActivationTicks: 3,
		TrailingDistanceTicks:   2,
	}, 10, 100)

	a, ok := feed(t, e, 110, 94)
	require.True(t, ok)
	assert.Equal(t, schema.ExitStopLoss, a.Reason)
}

func TestDynamicHoldsLosers(t *testing.T) {
	cfg := Config{Dynamic: true, DynamicProfitThresholdTicks: 3, DynamicReversalTicks: 1.5}
	e := openEngine(cfg, 100, 100)

	r := rand.New(rand.NewSource(7))
	for range 2000 {
		p := schema.Price(1 + r.Intn(102))
		_, ok := e.Evaluate(p)
		require.False(t, ok, "loser closed at %v", p)
	}
	assert.Equal(t, PhaseOpen, e.Phase())

	a, ok := feed(t, e, 105, 103)
	require.True(t, ok)
	assert.Equal(t, schema.ExitDynamic, a.Reason)
	assert.InDelta(t, 3.0, a.PnLTicks, 1e-9)
}

func TestDynamicTracksBestWhileLosing(t *testing.T) {
	e := openEngine(Config{Dynamic: true, DynamicProfitThresholdTicks: 3, DynamicReversalTicks: 1.5}, -10, 100)

	_, ok := feed(t, e, 104, 102, 101)
	require.False(t, ok)
	best, seen := e.Best()
	require.True(t, seen)
	assert.Equal(t, schema.Price(101), best)

	// short: profitable at 96, retrace from 95 to 97 is 2 ticks
	a, ok := feed(t, e, 96, 95, 97)
	require.True(t, ok)
	assert.Equal(t, schema.ExitDynamic, a.Reason)
	assert.Equal(t, schema.OrderSideBuy, a.Side)
	assert.Equal(t, schema.Quantity(10), a.Qty)
}

func TestTrailingStop(t *testing.T) {
	cfg := Config{StopLossTicks: 100, Trailing: true, TrailingActivationTicks: 3, TrailingDistanceTicks: 2, TakeProfitTicks: 1}

	t.Run("long", func(t *testing.T) {
		e := openEngine(cfg, 5, 100)
		_, ok := feed(t, e, 102)
		require.False(t, ok)
		assert.False(t, e.TrailingActive(), "take-profit must not fire while trailing is enabled")

		_, ok = feed(t, e, 104, 103)
		require.False(t, ok)
		assert.True(t, e.TrailingActive())

		a, ok := feed(t, e, 102)
		require.True(t, ok)
		assert.Equal(t, schema.ExitTrailingStop, a.Reason)
		assert.Equal(t, schema.OrderSideSell, a.Side)
	})

	t.Run("short", func(t *testing.T) {
		e := openEngine(cfg, -5, 100)
		a, ok := feed(t, e, 99, 96, 97, 98)
		require.True(t, ok)
		assert.Equal(t, schema.ExitTrailingStop, a.Reason)
		assert.Equal(t, schema.OrderSideBuy, a.Side)
		assert.Equal(t, schema.Quantity(5), a.Qty)
	})

	t.Run("best only tracked while profitable", func(t *testing.T) {
		e := openEngine(cfg, 5, 100)
		_, ok := feed(t, e, 98, 97)
		require.False(t, ok)
		_, seen := e.Best()
		assert.False(t, seen)
	})
}

func TestDynamicOverridesTrailing(t *testing.T) {
	e := openEngine(Config{
		Trailing:                    true,
		TrailingActivationTicks:     1,
		TrailingDistanceTicks:       1,
		Dynamic:                     true,
		DynamicProfitThresholdTicks: 5,
		DynamicReversalTicks:        1,
	}, 1, 100)

	_, ok := feed(t, e, 103, 102)
	require.False(t, ok)
	assert.False(t, e.TrailingActive())

	a, ok := feed(t, e, 107, 105)
	require.True(t, ok)
	assert.Equal(t, schema.ExitDynamic, a.Reason)
}

func TestTakeProfit(t *testing.T) {
	e := openEngine(Config{StopLossTicks: 100, TakeProfitTicks: 2, TickSize: 0.5}, 3, 100)
	_, ok := feed(t, e, 100.5)
	require.False(t, ok)

	a, ok := feed(t, e, 101)
	require.True(t, ok)
	assert.Equal(t, schema.ExitTakeProfit, a.Reason)
	assert.InDelta(t, 2.0, a.PnLTicks, 1e-9)
}

func TestLifecycle(t *testing.T) {
	e := NewEngine("[test]", Config{TickSize: 1, TakeProfitTicks: 1})
	assert.Equal(t, PhaseFlat, e.Phase())
	_, ok := e.Evaluate(200)
	assert.False(t, ok)

	e.Sync(10, 100)
	assert.Equal(t, PhaseOpen, e.Phase())

	_, ok = e.Evaluate(101)
	require.True(t, ok)
	assert.Equal(t, PhaseClosing, e.Phase())

	_, ok = e.Evaluate(150)
	assert.False(t, ok, "closing blocks further actions")

	e.CloseFailed()
	assert.Equal(t, PhaseOpen, e.Phase())

	a, ok := e.Evaluate(102)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(10), a.Qty)

	e.Sync(4, 100)
	assert.Equal(t, PhaseClosing, e.Phase(), "partial close keeps closing")

	e.Sync(0, 0)
	assert.Equal(t, PhaseFlat, e.Phase())
	_, seen := e.Best()
	assert.False(t, seen)
	assert.False(t, e.TrailingActive())
}

func TestFlipResetsExcursion(t *testing.T) {
	e := openEngine(Config{Dynamic: true, DynamicProfitThresholdTicks: 100, DynamicReversalTicks: 1}, 10, 100)
	_, ok := feed(t, e, 110)
	require.False(t, ok)

	e.Sync(-5, 109)
	_, seen := e.Best()
	assert.False(t, seen)
	assert.Equal(t, PhaseOpen, e.Phase())
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{TickSize: 1, Dynamic: true}.Validate())
	assert.Error(t, Config{TickSize: 1, Trailing: true}.Validate())
	assert.NoError(t, Config{TickSize: 0.01, Dynamic: true, DynamicReversalTicks: 0.3}.Validate())
}

// Thresholds are inclusive at exactly the configured tick distance, whatever
// the binary form of the prices.
func TestThresholdsInclusiveAtFractionalTicks(t *testing.T) {
	testCases := []struct {
		desc   string
		cfg    Config
		pos    schema.Quantity
		entry  schema.Price
		prices []schema.Price
		reason schema.ExitReason
	}{
		{desc: "stop loss 0.1 tick", cfg: Config{TickSize: 0.1, StopLossTicks: 3}, pos: 100, entry: 100, prices: []schema.Price{99.7}, reason: schema.ExitStopLoss},
		{desc: "stop loss large price", cfg: Config{TickSize: 0.1, StopLossTicks: 3}, pos: 100, entry: 1000, prices: []schema.Price{999.7}, reason: schema.ExitStopLoss},
		{desc: "stop loss fractional entry", cfg: Config{TickSize: 0.1, StopLossTicks: 3}, pos: 100, entry: 100.3, prices: []schema.Price{100}, reason: schema.ExitStopLoss},
		{desc: "stop loss short 0.01 tick", cfg: Config{TickSize: 0.01, StopLossTicks: 7}, pos: -5, entry: 10.1, prices: []schema.Price{10.17}, reason: schema.ExitStopLoss},
		{desc: "take profit 0.1 tick", cfg: Config{TickSize: 0.1, StopLossTicks: 100, TakeProfitTicks: 3}, pos: 10, entry: 100, prices: []schema.Price{100.3}, reason: schema.ExitTakeProfit},
		{desc: "take profit 0.01 tick", cfg: Config{TickSize: 0.01, TakeProfitTicks: 3}, pos: 10, entry: 0.1, prices: []schema.Price{0.13}, reason: schema.ExitTakeProfit},
		{
			desc:   "trailing 0.1 tick",
			cfg:    Config{TickSize: 0.1, Trailing: true, TrailingActivationTicks: 3, TrailingDistanceTicks: 2},
			pos:    10,
			entry:  100,
			prices: []schema.Price{100.3, 100.1},
			reason: schema.ExitTrailingStop,
		},
		{
			desc:   "dynamic 0.1 tick",
			cfg:    Config{TickSize: 0.1, Dynamic: true, DynamicProfitThresholdTicks: 1, DynamicReversalTicks: 3},
			pos:    10,
			entry:  100,
			prices: []schema.Price{100.7, 100.4},
			reason: schema.ExitDynamic,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			e := openEngine(tc.cfg, tc.pos, tc.entry)
			a, ok := feed(t, e, tc.prices...)
			require.True(t, ok)
			assert.Equal(t, tc.reason, a.Reason)
		})
	}
}

func TestPnLTicksIsWhole(t *testing.T) {
	e := openEngine(Config{TickSize: 0.1}, 100, 100)
	assert.Equal(t, -3.0, e.PnLTicks(99.7))
	e = openEngine(Config{TickSize: 0.01}, -1, 0.3)
	assert.Equal(t, 1.0, e.PnLTicks(0.29))
}

func TestForce(t *testing.T) {
	e := NewEngine("[test]", Config{TickSize: 0.1})
	_, ok := e.Force(schema.ExitTimeStop, 100)
	assert.False(t, ok, "flat")

	e.Sync(-50, 100)
	a, ok := e.Force(schema.ExitTimeStop, 99.8)
	require.True(t, ok)
	assert.Equal(t, schema.ExitTimeStop, a.Reason)
	assert.Equal(t, schema.OrderSideBuy, a.Side)
	assert.Equal(t, schema.Quantity(50), a.Qty)
	assert.InDelta(t, 2, a.PnLTicks, 1e-9)
	assert.Equal(t, PhaseClosing, e.Phase())

	_, ok = e.Force(schema.ExitTimeStop, 99.8)
	assert.False(t, ok, "already closing")

	e.CloseFailed()
	_, ok = e.Force(schema.ExitRangeBreak, 99.8)
	assert.True(t, ok)
}
