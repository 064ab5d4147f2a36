package og

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func TestPaperGatewayPropagatesStrategy(t *testing.T) {
	var got []schema.Fill
	gw := NewPaperGateway(PaperConfig{TickSize: 0.5, SlippageTicks: 1, FeePerFill: decimal.NewFromInt(2), PartialFills: 3, Seed: 1}, func(f schema.Fill) error {
		got = append(got, f)
		return nil
	})

	signal := schema.OrderSignal{SignalID: 9, StrategyID: schema.StrategyOrderFlow, Side: schema.OrderSideBuy, Qty: 10, Price: 100}
	orderID, err := gw.Submit(t.Context(), signal)
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	require.Len(t, got, 3)
	var total schema.Quantity
	keys := make(map[string]bool)
	for _, f := range got {
		assert.Equal(t, orderID, f.OrderID)
		assert.Equal(t, schema.StrategyOrderFlow, f.StrategyID)
		assert.Equal(t, schema.Price(100.5), f.Price)
		assert.True(t, f.Fee.Equal(decimal.NewFromInt(2)))
		keys[f.DedupeKey()] = true
		total += f.Qty
	}
	assert.Equal(t, schema.Quantity(10), total)
	assert.Len(t, keys, 3)

	second, err := gw.Submit(t.Context(), signal)
	require.NoError(t, err)
	assert.Greater(t, second, orderID, "ulids sort by creation")
}

func TestPaperGatewayDisconnected(t *testing.T) {
	published := 0
	gw := NewPaperGateway(PaperConfig{Seed: 1}, func(schema.Fill) error {
		published++
		return nil
	})
	gw.Disconnect()

	_, err := gw.Submit(t.Context(), schema.OrderSignal{StrategyID: schema.StrategyTrendGrid, Side: schema.OrderSideSell, Qty: 1, Price: 1})
	require.ErrorIs(t, err, exception.ErrGatewayDisconnected)
	assert.Zero(t, published)

	assert.Zero(t, gw.Reconnect())
	_, err = gw.Submit(t.Context(), schema.OrderSignal{StrategyID: schema.StrategyTrendGrid, Side: schema.OrderSideSell, Qty: 1, Price: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestPaperGatewayBacklog(t *testing.T) {
	full := true
	var got []schema.Fill
	gw := NewPaperGateway(PaperConfig{PartialFills: 2, Seed: 1}, func(f schema.Fill) error {
		if full && len(got) == 1 {
			return exception.ErrEventQueueFull
		}
		got = append(got, f)
		return nil
	})

	_, err := gw.Submit(t.Context(), schema.OrderSignal{StrategyID: schema.StrategyMarketMaking, Side: schema.OrderSideBuy, Qty: 4, Price: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, 1, gw.Flush())
	full = false
	assert.Equal(t, 0, gw.Flush())
	require.Len(t, got, 2)
}

func TestPaperGatewayFirstPublishFailureRejects(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{Seed: 1}, func(schema.Fill) error {
		return exception.ErrEventQueueFull
	})
	_, err := gw.Submit(t.Context(), schema.OrderSignal{StrategyID: schema.StrategyMarketMaking, Side: schema.OrderSideBuy, Qty: 4, Price: 10})
	require.ErrorIs(t, err, exception.ErrSubmitRejected)
}

func TestPaperGatewayCanceledContext(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{Seed: 1}, func(schema.Fill) error { return nil })
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := gw.Submit(ctx, schema.OrderSignal{StrategyID: schema.StrategyMarketMaking, Side: schema.OrderSideBuy, Qty: 4, Price: 10})
	require.Error(t, err)
}
