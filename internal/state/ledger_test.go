package state

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(Config{MaxAbsTotalPosition: 400, DailyLossLimit: decimal.NewFromInt(500_000)})
	for _, id := range schema.AllStrategies() {
		require.NoError(t, l.Register(id, 200))
	}
	return l
}

func fill(id schema.StrategyID, side schema.OrderSide, qty schema.Quantity, price schema.Price) schema.Fill {
	return schema.Fill{OrderID: "o", StrategyID: id, Side: side, Qty: qty, Price: price}
}

func TestCostBasisRoundTrip(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.ApplyFill(fill(schema.StrategyTrendGrid, schema.OrderSideBuy, 100, 1000))
	require.NoError(t, err)
	_, err = l.ApplyFill(fill(schema.StrategyTrendGrid, schema.OrderSideBuy, 100, 1010))
	require.NoError(t, err)

	p, err := l.Position(schema.StrategyTrendGrid)
	require.NoError(t, err)
	assert.True(t, p.Cost.AverageCost().Equal(decimal.NewFromInt(1005)), "avg %s", p.Cost.AverageCost())
	notionalBefore := p.Cost.TotalBuyNotional

	_, err = l.ApplyFill(fill(schema.StrategyTrendGrid, schema.OrderSideSell, 100, 1010))
	require.NoError(t, err)

	p, err = l.Position(schema.StrategyTrendGrid)
	require.NoError(t, err)
	reduction := notionalBefore.Sub(p.Cost.TotalBuyNotional)
	assert.True(t, reduction.Equal(decimal.NewFromInt(1005*100)), "reduced by %s", reduction)
	assert.True(t, p.Cost.AverageCost().Equal(decimal.NewFromInt(1005)))
	assert.Equal(t, schema.Quantity(100), p.Cost.TotalBuyVolume)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(500)), "realized %s", p.RealizedPnL)
}

func TestCostBasisFloorsAtZero(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.ApplyFill(fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 50, 100))
	require.NoError(t, err)
	_, err = l.ApplyFill(fill(schema.StrategyOrderFlow, schema.OrderSideSell, 80, 101))
	require.NoError(t, err)

	p, err := l.Position(schema.StrategyOrderFlow)
	require.NoError(t, err)
	assert.Equal(t, schema.Quantity(-30), p.SignedPosition)
	assert.Equal(t, schema.Quantity(0), p.Cost.TotalBuyVolume)
	assert.True(t, p.Cost.TotalBuyNotional.IsZero())
	assert.True(t, p.Cost.AverageCost().IsZero())
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(101)), "flipped entry %s", p.EntryPrice)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(50)))
}

func TestShortRealizedPnL(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.ApplyFill(fill(schema.StrategyMarketMaking, schema.OrderSideSell, 10, 200))
	require.NoError(t, err)
	applied, err := l.ApplyFill(fill(schema.StrategyMarketMaking, schema.OrderSideBuy, 10, 190))
	require.NoError(t, err)

	assert.True(t, applied.Flattened())
	assert.True(t, applied.RealizedPnL.Equal(decimal.NewFromInt(100)))
	agg := l.Aggregate()
	assert.True(t, agg.CumulativeDailyPnL.Equal(decimal.NewFromInt(100)))
}

func TestFeeReducesRealized(t *testing.T) {
	l := newTestLedger(t)
	f := fill(schema.StrategyLiquidityTaker, schema.OrderSideBuy, 10, 100)
	f.Fee = decimal.NewFromInt(3)
	applied, err := l.ApplyFill(f)
	require.NoError(t, err)
	assert.True(t, applied.RealizedPnL.Equal(decimal.NewFromInt(-3)))
}

func TestApplyFillIntegrityErrors(t *testing.T) {
	testCases := []struct {
		desc string
		fill schema.Fill
		want error
	}{
		{"unknown strategy", fill(schema.StrategyUnknown, schema.OrderSideBuy, 1, 1), exception.ErrUnknownStrategy},
		{"zero quantity", fill(schema.StrategyTrendGrid, schema.OrderSideBuy, 0, 1), exception.ErrNonPositiveQuantity},
		{"negative quantity", fill(schema.StrategyTrendGrid, schema.OrderSideSell, -5, 1), exception.ErrNonPositiveQuantity},
		{"unknown side", fill(schema.StrategyTrendGrid, schema.OrderSideUnknown, 5, 1), exception.ErrUnknownSide},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			l := newTestLedger(t)
			before := l.Snapshot()
			_, err := l.ApplyFill(tc.fill)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, errs.IsIntegrity(err))
			require.NoError(t, CompareSnapshots(before, l.Snapshot()))
		})
	}
}

func TestAggregateEqualsSumOfStrategies(t *testing.T) {
	l := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))
	ids := schema.AllStrategies()

	for i := 0; i < 500; i++ {
		side := schema.OrderSideBuy
		if rng.Intn(2) == 0 {
			side = schema.OrderSideSell
		}
		f := fill(ids[rng.Intn(len(ids))], side, schema.Quantity(rng.Intn(50)+1), schema.Price(100+rng.Float64()))
		applied, err := l.ApplyFill(f)
		require.NoError(t, err)

		var sum schema.Quantity
		for _, id := range ids {
			p, err := l.Position(id)
			require.NoError(t, err)
			sum += p.SignedPosition
		}
		require.Equal(t, sum, l.Aggregate().TotalSignedPosition, "step %d", i)
		require.Equal(t, sum, applied.Total, "step %d", i)
	}
}

func TestDailyLossAndReset(t *testing.T) {
	l := NewLedger(Config{MaxAbsTotalPosition: 400, DailyLossLimit: decimal.NewFromInt(100)})
	require.NoError(t, l.Register(schema.StrategyOrderFlow, 200))

	_, err := l.ApplyFill(fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 10, 100))
	require.NoError(t, err)
	_, err = l.ApplyFill(fill(schema.StrategyOrderFlow, schema.OrderSideSell, 10, 90))
	require.NoError(t, err)
	assert.True(t, l.Aggregate().DailyLossBreached())

	changed, err := l.SetEnabled(schema.StrategyOrderFlow, false)
	require.NoError(t, err)
	assert.True(t, changed)

	l.ResetDaily()
	assert.False(t, l.Aggregate().DailyLossBreached())
	p, err := l.Position(schema.StrategyOrderFlow)
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(-100)), "strategy realized survives daily reset")
}

func TestMarkToMarket(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.ApplyFill(fill(schema.StrategyMarketMaking, schema.OrderSideSell, 10, 100))
	require.NoError(t, err)
	l.MarkToMarket(95)
	p, err := l.Position(schema.StrategyMarketMaking)
	require.NoError(t, err)
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(50)), "unrealized %s", p.UnrealizedPnL)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	l := newTestLedger(t)
	require.ErrorIs(t, l.Register(schema.StrategyTrendGrid, 10), exception.ErrStrategyExists)
	require.ErrorIs(t, l.Register(schema.StrategyUnknown, 10), exception.ErrUnknownStrategy)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.ApplyFill(fill(schema.StrategyTrendGrid, schema.OrderSideBuy, 100, 1000))
	require.NoError(t, err)
	_, err = l.ApplyFill(fill(schema.StrategyOrderFlow, schema.OrderSideSell, 20, 1001))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snap", "ledger.json")
	snap := l.SnapshotWithSeq(12)
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), loaded.LastSeq)
	require.NoError(t, CompareSnapshots(snap, loaded))

	restored := newTestLedger(t)
	require.NoError(t, restored.Restore(loaded))
	require.NoError(t, CompareSnapshots(snap, restored.Snapshot()))
	p, err := restored.Position(schema.StrategyTrendGrid)
	require.NoError(t, err)
	assert.True(t, p.Cost.AverageCost().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, schema.Quantity(80), restored.Aggregate().TotalSignedPosition)
}

func TestCompareSnapshotsMismatch(t *testing.T) {
	l := newTestLedger(t)
	before := l.Snapshot()
	_, err := l.ApplyFill(fill(schema.StrategyTrendGrid, schema.OrderSideBuy, 1, 10))
	require.NoError(t, err)
	require.ErrorIs(t, CompareSnapshots(before, l.Snapshot()), exception.ErrSnapshotMismatch)
}

func TestCostBasisIgnoresShortCover(t *testing.T) {
	testCases := []struct {
		desc   string
		fills  []schema.Fill
		volume schema.Quantity
		avg    int64
	}{
		{
			desc: "short then cover to flat",
			fills: []schema.Fill{
				fill(schema.StrategyOrderFlow, schema.OrderSideSell, 40, 100),
				fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 40, 98),
			},
		},
		{
			desc: "cover through zero keeps only the long part",
			fills: []schema.Fill{
				fill(schema.StrategyOrderFlow, schema.OrderSideSell, 40, 100),
				fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 70, 99),
			},
			volume: 30,
			avg:    99,
		},
		{
			desc: "long round trip to flat",
			fills: []schema.Fill{
				fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 30, 100),
				fill(schema.StrategyOrderFlow, schema.OrderSideBuy, 30, 102),
				fill(schema.StrategyOrderFlow, schema.OrderSideSell, 60, 105),
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			l := newTestLedger(t)
			for _, f := range tc.fills {
				_, err := l.ApplyFill(f)
				require.NoError(t, err)
			}
			p, err := l.Position(schema.StrategyOrderFlow)
			require.NoError(t, err)
			assert.Equal(t, tc.volume, p.Cost.TotalBuyVolume)
			assert.True(t, p.Cost.AverageCost().Equal(decimal.NewFromInt(tc.avg)), "avg %s", p.Cost.AverageCost())
			if tc.volume == 0 {
				assert.True(t, p.Cost.TotalBuyNotional.IsZero())
			}
		})
	}
}
