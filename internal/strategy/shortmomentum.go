package strategy

import (
	"time"

	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/exit"
	"hftcore/internal/indicator"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// ShortMomentumConfig controls the bar-based momentum follower.
type ShortMomentumConfig struct {
	TickSize    float64         `json:"tickSize" yaml:"tickSize"`
	LotSize     schema.Quantity `json:"lotSize" yaml:"lotSize"`
	MaxPosition schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	BarPeriod   time.Duration   `json:"barPeriod" yaml:"barPeriod"`
	// MinBars closed bars are needed before entries; twice as many are kept.
	MinBars          int           `json:"minBars" yaml:"minBars"`
	FastPeriods      int           `json:"fastPeriods" yaml:"fastPeriods"`
	SlowPeriods      int           `json:"slowPeriods" yaml:"slowPeriods"`
	EMACrossTicks    float64       `json:"emaCrossTicks" yaml:"emaCrossTicks"`
	VWAPWindow       time.Duration `json:"vwapWindow" yaml:"vwapWindow"`
	VWAPDeviation    float64       `json:"vwapDeviation" yaml:"vwapDeviation"`
	MomentumWindow   time.Duration `json:"momentumWindow" yaml:"momentumWindow"`
	MomentumMinTicks float64       `json:"momentumMinTicks" yaml:"momentumMinTicks"`
	TimeStop         time.Duration `json:"timeStop" yaml:"timeStop"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
	Exit             exit.Config   `json:"exit" yaml:"exit"`
}

// DefaultShortMomentumConfig returns the production defaults.
func DefaultShortMomentumConfig() ShortMomentumConfig {
	return ShortMomentumConfig{
		TickSize:         0.1,
		LotSize:          100,
		MaxPosition:      100,
		BarPeriod:        3 * time.Second,
		MinBars:          10,
		FastPeriods:      3,
		SlowPeriods:      8,
		EMACrossTicks:    0.5,
		VWAPWindow:       10 * time.Second,
		VWAPDeviation:    0.0015,
		MomentumWindow:   5 * time.Second,
		MomentumMinTicks: 2,
		TimeStop:         30 * time.Second,
		Cooldown:         2 * time.Second,
		Exit:             lockExit(0.1),
	}
}

// Validate rejects settings that can never produce a signal.
func (c ShortMomentumConfig) Validate() error {
	if c.TickSize <= 0 || c.LotSize <= 0 || c.BarPeriod <= 0 {
		return errs.Wrapf(exception.ErrInvalidConfig, "tick %.4f lot %d bar %v", c.TickSize, c.LotSize, c.BarPeriod)
	}
	if c.FastPeriods <= 0 || c.SlowPeriods <= c.FastPeriods {
		return errs.Wrapf(exception.ErrInvalidConfig, "ema periods %d/%d", c.FastPeriods, c.SlowPeriods)
	}
	return c.Exit.Validate()
}

// lockExit takes profit on the first tick against the position once it is at
// least one tick in profit. Losses are left to the stop-loss and time stop.
func lockExit(tick float64) exit.Config {
	return exit.Config{
		TickSize:                    tick,
		StopLossTicks:               10,
		TakeProfitTicks:             5,
		Dynamic:                     true,
		DynamicProfitThresholdTicks: 1,
		DynamicReversalTicks:        0.5,
	}
}

type bar struct {
	ts    int64
	close schema.Price
}

// MomentumSignals are the entry inputs at the latest quote.
type MomentumSignals struct {
	Bars          int
	EMAFast       float64
	EMASlow       float64
	EMADiffTicks  float64
	VWAP          float64
	VWAPDeviation float64
	MomentumTicks float64
}

// ShortMomentum follows a short trend confirmed by an EMA cross on closed
// bars, the distance from the micro VWAP and bar momentum. It opens from flat
// only and holds for seconds.
type ShortMomentum struct {
	base
	cfg        ShortMomentumConfig
	trades     *window
	fast       *indicator.EMA
	slow       *indicator.EMA
	bars       []bar
	barStart   int64
	barClose   schema.Price
	barOpen    bool
	lastSignal int64
}

var _ Strategy = (*ShortMomentum)(nil)

// NewShortMomentum creates the strategy.
func NewShortMomentum(cfg ShortMomentumConfig, ledger state.Reader) *ShortMomentum {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &ShortMomentum{
		base:   newBase(schema.StrategyShortMomentum, ledger, cfg.Exit, averageCost),
		cfg:    cfg,
		trades: newWindow(cfg.VWAPWindow),
		fast:   indicator.NewEMA(cfg.FastPeriods),
		slow:   indicator.NewEMA(cfg.SlowPeriods),
	}
}

func (s *ShortMomentum) OnPriceUpdate(quote schema.Quote) {
	price := quote.Reference()
	if price <= 0 {
		return
	}
	s.quote = quote
	s.trades.push(quote)
	s.updateBar(quote.Ts, price)

	if s.checkExit(quote) || s.busy() || s.checkTimeStop(quote, s.cfg.TimeStop) {
		return
	}
	if !cooledDown(s.lastSignal, quote.Ts, s.cfg.Cooldown) || quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return
	}
	pos, ok := s.position()
	if !ok || pos.SignedPosition != 0 {
		return
	}

	sig, ok := s.Signals()
	if !ok {
		return
	}
	qty := min(s.cfg.LotSize, s.cfg.MaxPosition)
	switch {
	case sig.EMADiffTicks >= s.cfg.EMACrossTicks && sig.VWAPDeviation >= s.cfg.VWAPDeviation && sig.MomentumTicks >= s.cfg.MomentumMinTicks:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideBuy, qty, quote.AskPrice, "sm_long")
	case sig.EMADiffTicks <= -s.cfg.EMACrossTicks && sig.VWAPDeviation <= -s.cfg.VWAPDeviation && sig.MomentumTicks <= -s.cfg.MomentumMinTicks:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideSell, qty, quote.BidPrice, "sm_short")
	}
}

// updateBar closes the running bar once BarPeriod has passed; the quote that
// closes it opens the next one.
func (s *ShortMomentum) updateBar(ts int64, price schema.Price) {
	if !s.barOpen {
		s.barStart, s.barClose, s.barOpen = ts, price, true
		return
	}
	if time.Duration(ts-s.barStart) < s.cfg.BarPeriod {
		s.barClose = price
		return
	}
	s.bars = append(s.bars, bar{ts: s.barStart, close: s.barClose})
	s.fast.Update(float64(s.barClose))
	s.slow.Update(float64(s.barClose))
	if keep := max(s.cfg.MinBars, 2) * 2; len(s.bars) > keep {
		s.bars = append(s.bars[:0], s.bars[len(s.bars)-keep:]...)
	}
	s.barStart, s.barClose = ts, price
}

// Signals computes the entry inputs. ok is false until enough bars have
// closed and some volume has traded inside the VWAP window.
func (s *ShortMomentum) Signals() (MomentumSignals, bool) {
	out := MomentumSignals{Bars: len(s.bars)}
	if len(s.bars) < max(s.cfg.MinBars, 2) || !s.slow.Ready() || !s.fast.Ready() {
		return out, false
	}
	out.EMAFast = s.fast.Value()
	out.EMASlow = s.slow.Value()
	out.EMADiffTicks = (out.EMAFast - out.EMASlow) / s.cfg.TickSize

	out.VWAP = microVWAP(s.trades)
	if out.VWAP <= 0 {
		return out, false
	}
	last := float64(s.quote.Reference())
	out.VWAPDeviation = (last - out.VWAP) / out.VWAP
	out.MomentumTicks = s.barMomentum()
	return out, true
}

// barMomentum is the close-to-close move of bars opened inside
// MomentumWindow of the latest quote, in ticks.
func (s *ShortMomentum) barMomentum() float64 {
	cutoff := s.quote.Ts - int64(s.cfg.MomentumWindow)
	i := len(s.bars)
	for i > 0 && s.bars[i-1].ts >= cutoff {
		i--
	}
	recent := s.bars[i:]
	if len(recent) < 2 {
		return 0
	}
	return schema.TicksBetween(recent[0].close, recent[len(recent)-1].close, s.cfg.TickSize)
}

// microVWAP weights each quote's reference price by the volume traded since
// the quote before it.
func microVWAP(w *window) float64 {
	var pv, v float64
	for i := 1; i < len(w.quotes); i++ {
		traded := w.quotes[i].Volume - w.quotes[i-1].Volume
		if traded <= 0 {
			continue
		}
		pv += float64(w.quotes[i].Reference()) * float64(traded)
		v += float64(traded)
	}
	if v == 0 {
		return 0
	}
	return pv / v
}

func (s *ShortMomentum) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition)
}
