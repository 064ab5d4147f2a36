package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEMA(t *testing.T) {
	t.Run("seeded with simple average", func(t *testing.T) {
		e := NewEMA(3)
		assert.Equal(t, "EMA(3)", e.Name())
		e.Update(2)
		e.Update(4)
		assert.False(t, e.Ready())
		assert.Equal(t, 0.0, e.Value())

		e.Update(6)
		assert.True(t, e.Ready())
		assert.InDelta(t, 4.0, e.Value(), 1e-12)

		e.Update(8)
		assert.InDelta(t, 6.0, e.Value(), 1e-12)
	})

	t.Run("constant input", func(t *testing.T) {
		e := NewEMA(20)
		for range 100 {
			e.Update(1000)
		}
		assert.InDelta(t, 1000.0, e.Value(), 1e-9)
	})

	t.Run("reset", func(t *testing.T) {
		e := NewEMA(2)
		e.Update(1)
		e.Update(2)
		e.Reset()
		assert.False(t, e.Ready())
	})
}

func TestATR(t *testing.T) {
	a := NewATR(2)
	a.Update(10, 10, 10)
	a.Update(11, 11, 11)
	assert.False(t, a.Ready())
	a.Update(13, 13, 13)
	assert.True(t, a.Ready())
	assert.InDelta(t, 1.5, a.Value(), 1e-12)

	a.Update(13, 13, 13)
	assert.InDelta(t, 0.75, a.Value(), 1e-12)

	a.Update(14, 12, 12)
	// true range 2, (0.75 + 2) / 2
	assert.InDelta(t, 1.375, a.Value(), 1e-12)
}

func TestRSI(t *testing.T) {
	t.Run("only gains", func(t *testing.T) {
		r := NewRSI(3)
		for _, v := range []float64{1, 2, 3, 4} {
			r.Update(v)
		}
		assert.Equal(t, 100.0, r.Value())
	})

	t.Run("balanced", func(t *testing.T) {
		r := NewRSI(4)
		assert.Equal(t, 50.0, r.Value())
		for _, v := range []float64{10, 11, 10, 11, 10} {
			r.Update(v)
		}
		assert.InDelta(t, 50.0, r.Value(), 1e-12)
	})

	t.Run("wilder smoothing", func(t *testing.T) {
		r := NewRSI(2)
		for _, v := range []float64{10, 12, 11} {
			r.Update(v)
		}
		// avg gain 1, avg loss 0.5
		assert.InDelta(t, 100-100/3.0, r.Value(), 1e-9)

		r.Update(11)
		// avg gain 0.5, avg loss 0.25
		assert.InDelta(t, 100-100/3.0, r.Value(), 1e-9)
	})

	t.Run("flat prices", func(t *testing.T) {
		r := NewRSI(3)
		for range 10 {
			r.Update(5)
		}
		assert.Equal(t, 50.0, r.Value())
	})
}
