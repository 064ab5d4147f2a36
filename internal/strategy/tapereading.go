package strategy

import (
	"time"

	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// TapeReadingConfig controls entries on the traded tape. A large trade is a
// volume increase of at least LargeTrade between two quotes.
type TapeReadingConfig struct {
	TickSize         float64         `json:"tickSize" yaml:"tickSize"`
	LotSize          schema.Quantity `json:"lotSize" yaml:"lotSize"`
	MaxPosition      schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	TapeWindow       time.Duration   `json:"tapeWindow" yaml:"tapeWindow"`
	Imbalance        float64         `json:"imbalance" yaml:"imbalance"`
	LargeTrade       schema.Quantity `json:"largeTrade" yaml:"largeTrade"`
	LargeTradeWindow time.Duration   `json:"largeTradeWindow" yaml:"largeTradeWindow"`
	Penetration      float64         `json:"penetration" yaml:"penetration"`
	MinLargeVolume   schema.Quantity `json:"minLargeVolume" yaml:"minLargeVolume"`
	TimeStop         time.Duration   `json:"timeStop" yaml:"timeStop"`
	Cooldown         time.Duration   `json:"cooldown" yaml:"cooldown"`
	Exit             exit.Config     `json:"exit" yaml:"exit"`
}

// DefaultTapeReadingConfig returns the production defaults.
func DefaultTapeReadingConfig() TapeReadingConfig {
	return TapeReadingConfig{
		TickSize:         0.1,
		LotSize:          100,
		MaxPosition:      100,
		TapeWindow:       10 * time.Second,
		Imbalance:        0.6,
		LargeTrade:       500,
		LargeTradeWindow: 5 * time.Second,
		Penetration:      0.7,
		MinLargeVolume:   1000,
		TimeStop:         20 * time.Second,
		Cooldown:         1500 * time.Millisecond,
		Exit:             lockExit(0.1),
	}
}

// Validate rejects settings that can never produce a signal.
func (c TapeReadingConfig) Validate() error {
	if c.TickSize <= 0 || c.LotSize <= 0 || c.LargeTrade <= 0 {
		return errs.Wrapf(exception.ErrInvalidConfig, "tick %.4f lot %d large trade %d", c.TickSize, c.LotSize, c.LargeTrade)
	}
	if c.Imbalance <= 0 || c.Imbalance > 1 || c.Penetration <= 0 || c.Penetration > 1 {
		return errs.Wrapf(exception.ErrInvalidConfig, "imbalance %.2f penetration %.2f", c.Imbalance, c.Penetration)
	}
	return c.Exit.Validate()
}

// TapeMetrics summarize the tape at the latest quote.
type TapeMetrics struct {
	Imbalance   float64
	BuyLarge    int
	SellLarge   int
	LargeVolume schema.Quantity
	// Up and Down are the shares of last price moves in each direction.
	Up   float64
	Down float64
}

type tapeTrade struct {
	ts   int64
	side schema.OrderSide
	qty  schema.Quantity
}

// TapeReading enters when the book leans one way, large trades hit that side
// and the last price keeps moving with them. It opens from flat only.
type TapeReading struct {
	base
	cfg        TapeReadingConfig
	tape       *window
	large      []tapeTrade
	lastSignal int64
}

var _ Strategy = (*TapeReading)(nil)

// NewTapeReading creates the strategy.
func NewTapeReading(cfg TapeReadingConfig, ledger state.Reader) *TapeReading {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &TapeReading{
		base: newBase(schema.StrategyTapeReading, ledger, cfg.Exit, averageCost),
		cfg:  cfg,
		tape: newWindow(cfg.TapeWindow),
	}
}

func (s *TapeReading) OnPriceUpdate(quote schema.Quote) {
	if quote.Reference() <= 0 {
		return
	}
	prev, hasPrev := s.quote, s.tape.len() > 0
	s.quote = quote
	s.tape.push(quote)
	if hasPrev {
		s.recordLarge(prev, quote)
	}

	if s.checkExit(quote) || s.busy() || s.checkTimeStop(quote, s.cfg.TimeStop) {
		return
	}
	if !cooledDown(s.lastSignal, quote.Ts, s.cfg.Cooldown) || quote.BidPrice <= 0 || quote.AskPrice <= 0 || s.tape.len() < 2 {
		return
	}
	pos, ok := s.position()
	if !ok || pos.SignedPosition != 0 {
		return
	}

	m := s.Metrics()
	if m.LargeVolume < s.cfg.MinLargeVolume {
		return
	}
	qty := min(s.cfg.LotSize, s.cfg.MaxPosition)
	switch {
	case m.Imbalance >= s.cfg.Imbalance && m.BuyLarge > m.SellLarge && m.Up >= s.cfg.Penetration:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideBuy, qty, quote.AskPrice, "tape_long")
	case m.Imbalance <= -s.cfg.Imbalance && m.SellLarge > m.BuyLarge && m.Down >= s.cfg.Penetration:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideSell, qty, quote.BidPrice, "tape_short")
	}
}

func (s *TapeReading) recordLarge(prev, cur schema.Quote) {
	traded := cur.Volume - prev.Volume
	if traded >= s.cfg.LargeTrade && traded > 0 {
		if side := aggressor(prev, cur); side.Valid() {
			s.large = append(s.large, tapeTrade{ts: cur.Ts, side: side, qty: traded})
		}
	}
	cutoff := cur.Ts - int64(s.cfg.LargeTradeWindow)
	i := 0
	for i < len(s.large) && s.large[i].ts < cutoff {
		i++
	}
	if i > 0 {
		s.large = append(s.large[:0], s.large[i:]...)
	}
}

// aggressor classifies the volume traded between two quotes by the tick
// rule, falling back to where the last price sits against the touch.
func aggressor(prev, cur schema.Quote) schema.OrderSide {
	switch {
	case cur.LastPrice > prev.LastPrice:
		return schema.OrderSideBuy
	case cur.LastPrice < prev.LastPrice:
		return schema.OrderSideSell
	case cur.AskPrice > 0 && cur.LastPrice >= cur.AskPrice:
		return schema.OrderSideBuy
	case cur.BidPrice > 0 && cur.LastPrice <= cur.BidPrice:
		return schema.OrderSideSell
	default:
		return schema.OrderSideUnknown
	}
}

// Metrics computes the tape summary.
func (s *TapeReading) Metrics() TapeMetrics {
	m := TapeMetrics{Imbalance: imbalance(s.quote)}
	for _, t := range s.large {
		if t.side == schema.OrderSideBuy {
			m.BuyLarge++
		} else {
			m.SellLarge++
		}
		m.LargeVolume += t.qty
	}
	var up, down int
	for i := 1; i < s.tape.len(); i++ {
		switch prev, cur := s.tape.quotes[i-1].Reference(), s.tape.quotes[i].Reference(); {
		case cur > prev:
			up++
		case cur < prev:
			down++
		}
	}
	if moves := up + down; moves > 0 {
		m.Up = float64(up) / float64(moves)
		m.Down = float64(down) / float64(moves)
	}
	return m
}

func (s *TapeReading) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition)
}
