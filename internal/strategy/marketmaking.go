package strategy

import (
	"math"
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

// MarketMakingConfig controls quoting. Spread widens with short-term
// volatility and the quote mid is skewed against inventory.
type MarketMakingConfig struct {
	TickSize           float64         `json:"tickSize" yaml:"tickSize"`
	LotSize            schema.Quantity `json:"lotSize" yaml:"lotSize"`
	MaxLongPosition    schema.Quantity `json:"maxLongPosition" yaml:"maxLongPosition"`
	MaxShortPosition   schema.Quantity `json:"maxShortPosition" yaml:"maxShortPosition"`
	InventorySoftLimit schema.Quantity `json:"inventorySoftLimit" yaml:"inventorySoftLimit"`
	BaseSpreadTicks    int             `json:"baseSpreadTicks" yaml:"baseSpreadTicks"`
	MinSpreadTicks     int             `json:"minSpreadTicks" yaml:"minSpreadTicks"`
	MaxSpreadTicks     int             `json:"maxSpreadTicks" yaml:"maxSpreadTicks"`
	VolaWindow         time.Duration   `json:"volaWindow" yaml:"volaWindow"`
	VolaToSpreadFactor float64         `json:"volaToSpreadFactor" yaml:"volaToSpreadFactor"`
	InventorySkewTicks float64         `json:"inventorySkewTicks" yaml:"inventorySkewTicks"`
	QuoteRefresh       time.Duration   `json:"quoteRefresh" yaml:"quoteRefresh"`
	Exit               exit.Config     `json:"exit" yaml:"exit"`
}

// DefaultMarketMakingConfig returns the production defaults.
func DefaultMarketMakingConfig() MarketMakingConfig {
	return MarketMakingConfig{
		TickSize:           0.1,
		LotSize:            100,
		MaxLongPosition:    100,
		MaxShortPosition:   0,
		InventorySoftLimit: 100,
		BaseSpreadTicks:    2,
		MinSpreadTicks:     1,
		MaxSpreadTicks:     6,
		VolaWindow:         10 * time.Second,
		VolaToSpreadFactor: 0.5,
		InventorySkewTicks: 1,
		QuoteRefresh:       500 * time.Millisecond,
		Exit:               hftExit(0.1),
	}
}

func hftExit(tick float64) exit.Config {
	return exit.Config{
		TickSize:                    tick,
		StopLossTicks:               100,
		TakeProfitTicks:             2,
		Trailing:                    true,
		TrailingActivationTicks:     3,
		TrailingDistanceTicks:       2,
		Dynamic:                     true,
		DynamicProfitThresholdTicks: 3,
		DynamicReversalTicks:        1.5,
	}
}

// MarketMaking posts one side per refresh: the side that works inventory back
// toward flat, or the bid when flat.
type MarketMaking struct {
	base
	cfg       MarketMakingConfig
	window    *window
	lastQuote int64
}

var _ Strategy = (*MarketMaking)(nil)

// NewMarketMaking creates the strategy.
func NewMarketMaking(cfg MarketMakingConfig, ledger state.Reader) *MarketMaking {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &MarketMaking{
		base:   newBase(schema.StrategyMarketMaking, ledger, cfg.Exit, entryPrice),
		cfg:    cfg,
		window: newWindow(cfg.VolaWindow),
	}
}

func (s *MarketMaking) OnPriceUpdate(quote schema.Quote) {
	if quote.Reference() <= 0 {
		return
	}
	s.quote = quote
	s.window.push(quote)

	if s.checkExit(quote) || s.busy() {
		return
	}
	if !cooledDown(s.lastQuote, quote.Ts, s.cfg.QuoteRefresh) {
		return
	}
	pos, ok := s.position()
	if !ok {
		return
	}
	bid, ask, ok := s.targets(quote, pos.SignedPosition)
	if !ok {
		return
	}
	s.lastQuote = quote.Ts

	canBuy := pos.SignedPosition+s.cfg.LotSize <= s.cfg.MaxLongPosition
	canSell := pos.SignedPosition-s.cfg.LotSize >= -s.cfg.MaxShortPosition
	switch {
	case pos.SignedPosition > 0 && canSell:
		s.emit(schema.OrderSideSell, s.cfg.LotSize, ask, "mm_ask")
	case pos.SignedPosition < 0 && canBuy:
		s.emit(schema.OrderSideBuy, s.cfg.LotSize, bid, "mm_bid")
	case canBuy:
		s.emit(schema.OrderSideBuy, s.cfg.LotSize, bid, "mm_bid")
	case canSell:
		s.emit(schema.OrderSideSell, s.cfg.LotSize, ask, "mm_ask")
	}
}

// targets computes the skewed bid and ask quote prices.
func (s *MarketMaking) targets(q schema.Quote, pos schema.Quantity) (schema.Price, schema.Price, bool) {
	tick := s.cfg.TickSize
	if tick <= 0 || q.BidPrice <= 0 || q.AskPrice <= 0 || q.BidPrice >= q.AskPrice {
		return 0, 0, false
	}
	spread := s.cfg.BaseSpreadTicks + int(s.cfg.VolaToSpreadFactor*s.window.volatilityTicks(tick))
	spread = min(max(spread, s.cfg.MinSpreadTicks), s.cfg.MaxSpreadTicks)

	softLimit := max(s.cfg.InventorySoftLimit, 1)
	ratio := math.Max(-1, math.Min(1, float64(pos)/float64(softLimit)))
	mid := float64(q.Mid()) - ratio*s.cfg.InventorySkewTicks*tick
	half := float64(spread) * tick / 2

	bid := math.Min(mid-half, float64(q.BidPrice))
	ask := math.Max(mid+half, float64(q.AskPrice))
	bid = math.Floor(bid/tick+1e-9) * tick
	ask = math.Ceil(ask/tick-1e-9) * tick
	if bid >= ask {
		return 0, 0, false
	}
	return schema.Price(bid), schema.Price(ask), true
}

func (s *MarketMaking) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition)
}
