package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func TestQueueOrderAndSequence(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.PublishQuote(schema.Quote{LastPrice: 100, Ts: 1}))
	require.NoError(t, q.PublishFill(schema.Fill{OrderID: "o-1", Qty: 1, Ts: 2}))
	require.NoError(t, q.PublishQuote(schema.Quote{LastPrice: 101, Ts: 3}))
	q.Close()

	var got []Event
	q.Run(t.Context(), func(e Event) { got = append(got, e) })

	require.Len(t, got, 3)
	assert.Equal(t, schema.EventQuote, got[0].Header.Type)
	assert.Equal(t, schema.EventFill, got[1].Header.Type)
	assert.Equal(t, "o-1", got[1].Fill.OrderID)
	assert.Equal(t, schema.Price(101), got[2].Quote.LastPrice)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Header.Seq)
	}
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.PublishQuote(schema.Quote{}))
	assert.ErrorIs(t, q.PublishQuote(schema.Quote{}), exception.ErrEventQueueFull)
	assert.Equal(t, uint64(1), q.Drops())

	assert.Equal(t, 1, q.Drain(func(Event) {}))
	assert.Zero(t, q.Len())

	q.Close()
	assert.ErrorIs(t, q.PublishFill(schema.Fill{}), exception.ErrEventQueueClosed)
}
