// Package indicator provides streaming technical indicators updated one
// observation at a time.
package indicator

import (
	"fmt"
	"math"
)

// EMA is an exponential moving average seeded with the simple average of
// its first period values.
type EMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates an EMA over period observations.
func NewEMA(period int) *EMA {
	period = max(period, 1)
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *EMA) Reset() {
	e.ema, e.count, e.warmupSum = 0, 0, 0
}

func (e *EMA) Update(v float64) {
	if e.count < e.period {
		e.warmupSum += v
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (v-e.ema)*e.multiplier + e.ema
}

func (e *EMA) Ready() bool {
	return e.count >= e.period
}

// Value returns the average, or 0 before warmup completes.
func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// ATR is the average true range with Wilder smoothing.
type ATR struct {
	period    int
	atr       float64
	count     int
	warmupSum float64
	prevClose float64
	hasPrev   bool
}

// NewATR creates an ATR over period true ranges.
func NewATR(period int) *ATR {
	return &ATR{period: max(period, 1)}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

func (a *ATR) Reset() {
	a.atr, a.count, a.warmupSum, a.prevClose, a.hasPrev = 0, 0, 0, 0, false
}

// Update adds one bar. The first bar only seeds the previous close.
func (a *ATR) Update(high, low, close float64) {
	if !a.hasPrev {
		a.prevClose, a.hasPrev = close, true
		return
	}
	tr := trueRange(high, low, a.prevClose)
	a.prevClose = close

	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
		return
	}
	a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Ready() bool {
	return a.count >= a.period
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// RSI is the relative strength index with Wilder smoothing.
type RSI struct {
	period  int
	avgGain float64
	avgLoss float64
	count   int
	prev    float64
	hasPrev bool
	gainSum float64
	lossSum float64
}

// NewRSI creates an RSI over period price changes.
func NewRSI(period int) *RSI {
	return &RSI{period: max(period, 1)}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d)", r.period)
}

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func (r *RSI) Update(v float64) {
	if !r.hasPrev {
		r.prev, r.hasPrev = v, true
		return
	}
	delta := v - r.prev
	r.prev = v
	gain, loss := math.Max(delta, 0), math.Max(-delta, 0)

	if r.count < r.period {
		r.gainSum += gain
		r.lossSum += loss
		r.count++
		if r.count == r.period {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
		}
		return
	}
	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

func (r *RSI) Ready() bool {
	return r.count >= r.period
}

// Value returns the index in [0, 100]. It is 50 before warmup and 100 when
// there were no losses.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 50
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}
