package strategy

import (
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

// LiquidityTakerConfig controls momentum entries confirmed by book imbalance.
type LiquidityTakerConfig struct {
	TickSize         float64         `json:"tickSize" yaml:"tickSize"`
	OrderVolume      schema.Quantity `json:"orderVolume" yaml:"orderVolume"`
	MaxPosition      schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	MaxSlipTicks     int             `json:"maxSlipTicks" yaml:"maxSlipTicks"`
	ImbalanceLong    float64         `json:"imbalanceLong" yaml:"imbalanceLong"`
	ImbalanceShort   float64         `json:"imbalanceShort" yaml:"imbalanceShort"`
	MomentumMinTicks int             `json:"momentumMinTicks" yaml:"momentumMinTicks"`
	TradeWindow      time.Duration   `json:"tradeWindow" yaml:"tradeWindow"`
	Cooldown         time.Duration   `json:"cooldown" yaml:"cooldown"`
	Exit             exit.Config     `json:"exit" yaml:"exit"`
}

// DefaultLiquidityTakerConfig returns the production defaults.
func DefaultLiquidityTakerConfig() LiquidityTakerConfig {
	cfg := LiquidityTakerConfig{
		TickSize:         0.1,
		OrderVolume:      100,
		MaxPosition:      100,
		MaxSlipTicks:     1,
		ImbalanceLong:    0.4,
		ImbalanceShort:   -0.4,
		MomentumMinTicks: 1,
		TradeWindow:      2 * time.Second,
		Cooldown:         time.Second,
		Exit:             hftExit(0.1),
	}
	cfg.Exit.TakeProfitTicks = 5
	cfg.Exit.StopLossTicks = 10
	return cfg
}

// LiquidityTaker crosses the spread when short-term momentum and the book
// imbalance agree. It only opens from flat.
type LiquidityTaker struct {
	base
	cfg        LiquidityTakerConfig
	window     *window
	lastSignal int64
}

var _ Strategy = (*LiquidityTaker)(nil)

// NewLiquidityTaker creates the strategy.
func NewLiquidityTaker(cfg LiquidityTakerConfig, ledger state.Reader) *LiquidityTaker {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &LiquidityTaker{
		base:   newBase(schema.StrategyLiquidityTaker, ledger, cfg.Exit, entryPrice),
		cfg:    cfg,
		window: newWindow(cfg.TradeWindow),
	}
}

func (s *LiquidityTaker) OnPriceUpdate(quote schema.Quote) {
	if quote.Reference() <= 0 {
		return
	}
	s.quote = quote
	s.window.push(quote)

	if s.checkExit(quote) || s.busy() {
		return
	}
	if !cooledDown(s.lastSignal, quote.Ts, s.cfg.Cooldown) || quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return
	}
	pos, ok := s.position()
	if !ok || pos.SignedPosition != 0 {
		return
	}

	momentum := s.window.momentumTicks(s.cfg.TickSize)
	imb := imbalance(quote)
	qty := min(s.cfg.OrderVolume, s.cfg.MaxPosition)
	slip := schema.Price(float64(s.cfg.MaxSlipTicks) * s.cfg.TickSize)

	switch {
	case momentum >= s.cfg.MomentumMinTicks && imb >= s.cfg.ImbalanceLong:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideBuy, qty, quote.AskPrice+slip, "lt_long")
	case momentum <= -s.cfg.MomentumMinTicks && imb <= s.cfg.ImbalanceShort:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideSell, qty, quote.BidPrice-slip, "lt_short")
	}
}

func (s *LiquidityTaker) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition)
}
