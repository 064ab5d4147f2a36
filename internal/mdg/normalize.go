package mdg

import (
	"math"
	"time"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// RawTick is one venue-agnostic top-of-book update before normalization.
type RawTick struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	BidSize   int64
	AskSize   int64
	TradeSize int64
	TsEvent   int64
}

// Normalizer maps raw ticks to schema.Quote, snapping prices to the symbol's
// tick grid and accumulating session volume per symbol.
type Normalizer struct {
	reg    *schema.Registry
	volume map[schema.SymbolID]schema.Quantity
}

// NewNormalizer creates a normalizer for a registry.
func NewNormalizer(reg *schema.Registry) *Normalizer {
	return &Normalizer{reg: reg, volume: make(map[schema.SymbolID]schema.Quantity)}
}

// Normalize converts a raw tick into a quote.
func (n *Normalizer) Normalize(tick RawTick) (schema.Quote, error) {
	if n.reg == nil {
		return schema.Quote{}, errs.Wrap(exception.ErrNilInstance, "normalizer registry")
	}
	symbol, ok := n.reg.SymbolByName(tick.Symbol)
	if !ok {
		return schema.Quote{}, errs.Wrapf(exception.ErrInvalidArgument, "symbol not found: %s", tick.Symbol)
	}
	bid, ask, last := snap(tick.Bid, symbol.TickSize), snap(tick.Ask, symbol.TickSize), snap(tick.Last, symbol.TickSize)
	if bid > 0 && ask > 0 && bid > ask {
		return schema.Quote{}, errs.Wrapf(exception.ErrInvalidArgument, "crossed book %s: bid %v > ask %v", tick.Symbol, bid, ask)
	}
	if tick.BidSize < 0 || tick.AskSize < 0 || tick.TradeSize < 0 {
		return schema.Quote{}, errs.Wrapf(exception.ErrInvalidArgument, "negative size for %s", tick.Symbol)
	}
	if tick.TsEvent == 0 {
		tick.TsEvent = time.Now().UTC().UnixNano()
	}
	n.volume[symbol.ID] += schema.Quantity(tick.TradeSize)
	return schema.Quote{
		SymbolID:  uint32(symbol.ID),
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: last,
		BidSize:   schema.Quantity(tick.BidSize),
		AskSize:   schema.Quantity(tick.AskSize),
		Volume:    n.volume[symbol.ID],
		Ts:        tick.TsEvent,
	}, nil
}

func snap(price, tick float64) schema.Price {
	if tick <= 0 || price <= 0 {
		return schema.Price(price)
	}
	steps := math.Round(price / tick)
	// round again to drop float noise such as 100.01000000000001
	return schema.Price(math.Round(steps*tick*1e8) / 1e8)
}
