package strategy

import (
	"math"
	"time"

	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// MicroGridConfig controls the range scalper. Ranges are detected over
// RangeWindow and re-checked every RangeRecheck of quote time.
type MicroGridConfig struct {
	TickSize     float64         `json:"tickSize" yaml:"tickSize"`
	LotSize      schema.Quantity `json:"lotSize" yaml:"lotSize"`
	MaxPosition  schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	SpacingTicks int             `json:"spacingTicks" yaml:"spacingTicks"`
	Levels       int             `json:"levels" yaml:"levels"`
	ProfitTicks  int             `json:"profitTicks" yaml:"profitTicks"`
	RangeWindow  time.Duration   `json:"rangeWindow" yaml:"rangeWindow"`
	RangeRecheck time.Duration   `json:"rangeRecheck" yaml:"rangeRecheck"`
	MinSamples   int             `json:"minSamples" yaml:"minSamples"`
	// MaxVolatility is the largest stddev/mean still treated as a range.
	MaxVolatility float64     `json:"maxVolatility" yaml:"maxVolatility"`
	Exit          exit.Config `json:"exit" yaml:"exit"`
}

// DefaultMicroGridConfig returns the production defaults.
func DefaultMicroGridConfig() MicroGridConfig {
	cfg := MicroGridConfig{
		TickSize:      0.1,
		LotSize:       100,
		MaxPosition:   300,
		SpacingTicks:  2,
		Levels:        5,
		ProfitTicks:   2,
		RangeWindow:   time.Minute,
		RangeRecheck:  10 * time.Second,
		MinSamples:    30,
		MaxVolatility: 0.003,
		Exit:          hftExit(0.1),
	}
	cfg.Exit.TakeProfitTicks = 5
	cfg.Exit.StopLossTicks = 10
	return cfg
}

// Validate rejects grids that cannot be laid out.
func (c MicroGridConfig) Validate() error {
	if c.TickSize <= 0 || c.LotSize <= 0 || c.MaxPosition < c.LotSize {
		return errs.Wrapf(exception.ErrInvalidConfig, "tick %.4f lot %d max %d", c.TickSize, c.LotSize, c.MaxPosition)
	}
	if c.SpacingTicks <= 0 || c.ProfitTicks <= 0 || c.Levels < 0 || c.MinSamples < 2 {
		return errs.Wrapf(exception.ErrInvalidConfig, "spacing %d profit %d levels %d samples %d", c.SpacingTicks, c.ProfitTicks, c.Levels, c.MinSamples)
	}
	return c.Exit.Validate()
}

// GridRange is the last range detection result.
type GridRange struct {
	Ranging    bool
	Center     schema.Price
	Top        schema.Price
	Bottom     schema.Price
	Volatility float64
}

// GridLevel is one rung: buy at Buy, take profit at Sell.
type GridLevel struct {
	Level int
	Buy   schema.Price
	Sell  schema.Price
}

type gridLot struct {
	GridLevel
	qty schema.Quantity
}

// noLevel marks an order that is not tied to one rung.
const noLevel = math.MinInt

// MicroGrid scalps a sideways market with a small long-only grid around the
// range mean and flattens everything once the range breaks.
type MicroGrid struct {
	base
	cfg       MicroGridConfig
	window    *window
	rng       GridRange
	levels    []GridLevel
	lots      []gridLot
	lastCheck int64
	checked   bool
	// pending is the rung of the order in flight.
	pending  GridLevel
	pendSide schema.OrderSide
}

var _ Strategy = (*MicroGrid)(nil)

// NewMicroGrid creates the strategy.
func NewMicroGrid(cfg MicroGridConfig, ledger state.Reader) *MicroGrid {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &MicroGrid{
		base:    newBase(schema.StrategyMicroGrid, ledger, cfg.Exit, averageCost),
		cfg:     cfg,
		window:  newWindow(cfg.RangeWindow),
		pending: GridLevel{Level: noLevel},
	}
}

// Range returns the last detection result.
func (s *MicroGrid) Range() GridRange {
	return s.rng
}

// Levels returns the rungs of the current range.
func (s *MicroGrid) Levels() []GridLevel {
	return append([]GridLevel(nil), s.levels...)
}

// Held returns the quantity held per rung.
func (s *MicroGrid) Held() map[int]schema.Quantity {
	out := make(map[int]schema.Quantity, len(s.lots))
	for _, l := range s.lots {
		out[l.Level] += l.qty
	}
	return out
}

func (s *MicroGrid) OnPriceUpdate(quote schema.Quote) {
	if quote.Reference() <= 0 {
		return
	}
	s.quote = quote
	s.window.push(quote)
	s.detect(quote.Ts)

	if s.checkExit(quote) || s.busy() {
		return
	}
	pos, ok := s.position()
	if !ok {
		return
	}
	s.trim(pos.SignedPosition)

	if !s.rng.Ranging {
		if pos.SignedPosition != 0 && s.checked && s.forceExit(quote, schema.ExitRangeBreak) {
			logs.Warnf("[%s] range broken, flatten %d", s.id, pos.SignedPosition)
		}
		return
	}
	if quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return
	}

	for _, l := range s.lots {
		if l.qty > 0 && quote.AskPrice >= l.Sell {
			s.send(l.GridLevel, schema.OrderSideSell, l.qty, l.Sell, "grid_take")
			return
		}
	}

	if pos.SignedPosition+s.cfg.LotSize > s.cfg.MaxPosition {
		return
	}
	held := s.Held()
	for _, lv := range s.levels {
		if held[lv.Level] > 0 {
			continue
		}
		if math.Abs(schema.TicksBetween(lv.Buy, quote.BidPrice, s.cfg.TickSize)) <= 1 {
			s.send(lv, schema.OrderSideBuy, s.cfg.LotSize, lv.Buy, "grid_buy")
			return
		}
	}
}

func (s *MicroGrid) send(lv GridLevel, side schema.OrderSide, qty schema.Quantity, price schema.Price, reason string) {
	s.pending, s.pendSide = lv, side
	s.emit(side, qty, price, reason)
}

// detect re-evaluates the range at most once per RangeRecheck.
func (s *MicroGrid) detect(now int64) {
	if s.window.len() < max(s.cfg.MinSamples, 2) {
		s.rng, s.levels = GridRange{}, nil
		return
	}
	if s.checked && time.Duration(now-s.lastCheck) < s.cfg.RangeRecheck {
		return
	}
	s.lastCheck, s.checked = now, true

	var sum float64
	lo, hi := s.window.first().Reference(), s.window.first().Reference()
	for _, q := range s.window.quotes {
		p := q.Reference()
		sum += float64(p)
		lo, hi = min(lo, p), max(hi, p)
	}
	n := float64(s.window.len())
	mean := sum / n
	var variance float64
	for _, q := range s.window.quotes {
		d := float64(q.Reference()) - mean
		variance += d * d
	}
	vol := 0.0
	if mean > 0 {
		vol = math.Sqrt(variance/n) / mean
	}

	was := s.rng.Ranging
	s.rng = GridRange{Volatility: vol}
	if vol >= s.cfg.MaxVolatility {
		s.levels = nil
		if was {
			logs.Infof("[%s] range lost, volatility: %.4f", s.id, vol)
		}
		return
	}
	s.rng = GridRange{Ranging: true, Center: schema.Price(mean), Top: hi, Bottom: lo, Volatility: vol}
	s.levels = gridLevels(s.rng, s.cfg)
	if !was {
		logs.Infof("[%s] range found, [%v, %v], volatility: %.4f, levels: %d", s.id, lo, hi, vol, len(s.levels))
	}
}

// gridLevels lays rungs SpacingTicks apart around the center, keeping only
// buys inside the range.
func gridLevels(r GridRange, cfg MicroGridConfig) []GridLevel {
	spacing := float64(cfg.SpacingTicks) * cfg.TickSize
	profit := float64(cfg.ProfitTicks) * cfg.TickSize
	var out []GridLevel
	for i := -cfg.Levels; i <= cfg.Levels; i++ {
		buy := schema.RoundPrice(r.Center+schema.Price(float64(i)*spacing), cfg.TickSize)
		if schema.TicksBetween(r.Bottom, buy, cfg.TickSize) < 0 || schema.TicksBetween(buy, r.Top, cfg.TickSize) < 0 {
			continue
		}
		out = append(out, GridLevel{Level: i, Buy: buy, Sell: schema.RoundPrice(buy+schema.Price(profit), cfg.TickSize)})
	}
	return out
}

// trim drops lots the ledger position no longer covers, newest first.
func (s *MicroGrid) trim(position schema.Quantity) {
	excess := -max(position, 0)
	for _, l := range s.lots {
		excess += l.qty
	}
	for i := len(s.lots) - 1; i >= 0 && excess > 0; i-- {
		cut := min(s.lots[i].qty, excess)
		s.lots[i].qty -= cut
		excess -= cut
	}
	s.compact()
}

func (s *MicroGrid) compact() {
	out := s.lots[:0]
	for _, l := range s.lots {
		if l.qty > 0 {
			out = append(out, l)
		}
	}
	s.lots = out
}

func (s *MicroGrid) OnReject(signal schema.OrderSignal) {
	s.base.OnReject(signal)
	if s.inflight == 0 {
		s.pending, s.pendSide = GridLevel{Level: noLevel}, schema.OrderSideUnknown
	}
}

func (s *MicroGrid) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	switch {
	case fill.Side == schema.OrderSideBuy && s.pendSide == schema.OrderSideBuy && s.pending.Level != noLevel:
		s.book(s.pending, fill.Qty)
	case fill.Side == schema.OrderSideSell:
		s.release(s.pending.Level, fill.Qty)
	}
	s.trim(pos.SignedPosition)
	if s.inflight == 0 {
		s.pending, s.pendSide = GridLevel{Level: noLevel}, schema.OrderSideUnknown
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d, lots: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition, len(s.lots))
}

func (s *MicroGrid) book(lv GridLevel, qty schema.Quantity) {
	for i := range s.lots {
		if s.lots[i].Level == lv.Level {
			s.lots[i].qty += qty
			return
		}
	}
	s.lots = append(s.lots, gridLot{GridLevel: lv, qty: qty})
}

// release takes qty off level first, then off the oldest lots.
func (s *MicroGrid) release(level int, qty schema.Quantity) {
	for i := range s.lots {
		if s.lots[i].Level == level {
			cut := min(s.lots[i].qty, qty)
			s.lots[i].qty -= cut
			qty -= cut
		}
	}
	for i := range s.lots {
		if qty <= 0 {
			break
		}
		cut := min(s.lots[i].qty, qty)
		s.lots[i].qty -= cut
		qty -= cut
	}
	s.compact()
}
