package strategy

import (
	"math"
	"time"

	"hftcore/internal/schema"
)

// window keeps the quotes of the last span of quote time.
type window struct {
	span   time.Duration
	quotes []schema.Quote
}

func newWindow(span time.Duration) *window {
	return &window{span: span}
}

func (w *window) push(q schema.Quote) {
	w.quotes = append(w.quotes, q)
	cutoff := q.Ts - int64(w.span)
	i := 0
	for i < len(w.quotes)-1 && w.quotes[i].Ts < cutoff {
		i++
	}
	if i > 0 {
		w.quotes = append(w.quotes[:0], w.quotes[i:]...)
	}
}

func (w *window) len() int {
	return len(w.quotes)
}

func (w *window) first() schema.Quote {
	return w.quotes[0]
}

func (w *window) last() schema.Quote {
	return w.quotes[len(w.quotes)-1]
}

// momentumTicks is the reference price change across the window.
func (w *window) momentumTicks(tickSize float64) int {
	if len(w.quotes) < 2 || tickSize <= 0 {
		return 0
	}
	return int(math.Round(schema.TicksBetween(w.first().Reference(), w.last().Reference(), tickSize)))
}

// volatilityTicks is the sample standard deviation of reference prices.
func (w *window) volatilityTicks(tickSize float64) float64 {
	n := len(w.quotes)
	if n < 2 || tickSize <= 0 {
		return 0
	}
	var mean float64
	for _, q := range w.quotes {
		mean += float64(q.Reference())
	}
	mean /= float64(n)
	var variance float64
	for _, q := range w.quotes {
		d := float64(q.Reference()) - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	return math.Sqrt(variance) / tickSize
}

// imbalance is (bid - ask) / (bid + ask) of the top-of-book sizes.
func imbalance(q schema.Quote) float64 {
	total := q.BidSize + q.AskSize
	if total <= 0 {
		return 0
	}
	return float64(q.BidSize-q.AskSize) / float64(total)
}

func cooledDown(last, now int64, cooldown time.Duration) bool {
	return last == 0 || time.Duration(now-last) >= cooldown
}
