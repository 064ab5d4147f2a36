package state

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config holds the ledger-wide limits.
type Config struct {
	MaxAbsTotalPosition schema.Quantity
	DailyLossLimit      decimal.Decimal
}

// CostBasis tracks the buy-side average cost of the held long quantity.
// Buys that cover a short add nothing, and a flat or short position carries
// no basis.
type CostBasis struct {
	TotalBuyNotional decimal.Decimal
	TotalBuyVolume   schema.Quantity
}

// AverageCost returns notional/volume, or zero when nothing is held.
func (c CostBasis) AverageCost() decimal.Decimal {
	if c.TotalBuyVolume <= 0 {
		return decimal.Zero
	}
	return c.TotalBuyNotional.Div(decimal.NewFromInt(int64(c.TotalBuyVolume)))
}

func (c *CostBasis) buy(price decimal.Decimal, qty schema.Quantity) {
	c.TotalBuyNotional = c.TotalBuyNotional.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	c.TotalBuyVolume += qty
}

// sell removes qty at the average cost, not at the sale price.
func (c *CostBasis) sell(qty schema.Quantity) {
	if c.TotalBuyVolume <= 0 {
		c.TotalBuyVolume = 0
		c.TotalBuyNotional = decimal.Zero
		return
	}
	avg := c.AverageCost()
	c.TotalBuyNotional = c.TotalBuyNotional.Sub(avg.Mul(decimal.NewFromInt(int64(qty))))
	c.TotalBuyVolume -= qty
	if c.TotalBuyVolume <= 0 {
		c.TotalBuyVolume = 0
		c.TotalBuyNotional = decimal.Zero
		return
	}
	if c.TotalBuyNotional.IsNegative() {
		c.TotalBuyNotional = decimal.Zero
	}
}

// PositionState is the ledger's record for one strategy.
type PositionState struct {
	StrategyID     schema.StrategyID
	SignedPosition schema.Quantity
	MaxAbsPosition schema.Quantity
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	// EntryPrice is the average open price of SignedPosition.
	EntryPrice decimal.Decimal
	Enabled    bool
	TradeCount int
	Cost       CostBasis
}

// AggregatePosition is the instrument-wide view across strategies.
type AggregatePosition struct {
	TotalSignedPosition schema.Quantity
	MaxAbsTotalPosition schema.Quantity
	DailyLossLimit      decimal.Decimal
	CumulativeDailyPnL  decimal.Decimal
	RealizedPnL         decimal.Decimal
}

// DailyLossBreached reports whether the daily loss limit has been reached.
func (a AggregatePosition) DailyLossBreached() bool {
	if !a.DailyLossLimit.IsPositive() {
		return false
	}
	return a.CumulativeDailyPnL.LessThanOrEqual(a.DailyLossLimit.Neg())
}

// Applied describes the effect of one ApplyFill call.
type Applied struct {
	StrategyID  schema.StrategyID
	Before      schema.Quantity
	After       schema.Quantity
	Total       schema.Quantity
	RealizedPnL decimal.Decimal
	Position    PositionState
}

// Flattened reports whether the fill closed the position.
func (a Applied) Flattened() bool {
	return a.Before != 0 && a.After == 0
}

// Reader is the read-only view handed to strategies and admission.
type Reader interface {
	Position(id schema.StrategyID) (PositionState, error)
	Aggregate() AggregatePosition
}

// Ledger owns every PositionState for one instrument. ApplyFill is the only
// mutator of positions and cost basis.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	positions map[schema.StrategyID]*PositionState
	dailyPnL  decimal.Decimal
}

var _ Reader = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		positions: make(map[schema.StrategyID]*PositionState),
	}
}

// Register adds a strategy with its absolute position cap. It starts enabled.
func (l *Ledger) Register(id schema.StrategyID, maxAbsPosition schema.Quantity) error {
	if !id.Valid() {
		return errs.NewIntegrity("register", id, exception.ErrUnknownStrategy)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[id]; ok {
		return errs.NewIntegrity("register", id, exception.ErrStrategyExists)
	}
	l.positions[id] = &PositionState{
		StrategyID:     id,
		MaxAbsPosition: maxAbsPosition,
		Enabled:        true,
	}
	return nil
}

// ApplyFill books a fill against its strategy. Nothing changes on error.
func (l *Ledger) ApplyFill(fill schema.Fill) (Applied, error) {
	if fill.Qty <= 0 {
		return Applied{}, errs.NewIntegrity("apply fill", fill.StrategyID, exception.ErrNonPositiveQuantity).WithOrder(fill.OrderID)
	}
	if !fill.Side.Valid() {
		return Applied{}, errs.NewIntegrity("apply fill", fill.StrategyID, exception.ErrUnknownSide).WithOrder(fill.OrderID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[fill.StrategyID]
	if !ok {
		return Applied{}, errs.NewIntegrity("apply fill", fill.StrategyID, exception.ErrUnknownStrategy).WithOrder(fill.OrderID)
	}

	before := p.SignedPosition
	price := fill.Price.Decimal()
	realized := p.book(fill.Side, fill.Qty, price).Sub(fill.Fee)

	long, longBefore := max(p.SignedPosition, 0), max(before, 0)
	switch {
	case p.SignedPosition <= 0:
		p.Cost = CostBasis{}
	case long > longBefore:
		p.Cost.buy(price, long-longBefore)
	case long < longBefore:
		p.Cost.sell(longBefore - long)
	}

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.TradeCount++
	if p.SignedPosition == 0 {
		p.UnrealizedPnL = decimal.Zero
	}
	l.dailyPnL = l.dailyPnL.Add(realized)

	return Applied{
		StrategyID:  fill.StrategyID,
		Before:      before,
		After:       p.SignedPosition,
		Total:       l.totalLocked(),
		RealizedPnL: realized,
		Position:    *p,
	}, nil
}

// book moves the signed position and its average open price, returning the
// gross P&L realized by the reducing part of the fill.
func (p *PositionState) book(side schema.OrderSide, qty schema.Quantity, price decimal.Decimal) decimal.Decimal {
	before := p.SignedPosition
	delta := side.Delta(qty)
	after := before + delta
	p.SignedPosition = after

	if before == 0 || (before > 0) == (delta > 0) {
		held := decimal.NewFromInt(int64(before.Abs()))
		added := decimal.NewFromInt(int64(qty))
		p.EntryPrice = p.EntryPrice.Mul(held).Add(price.Mul(added)).Div(held.Add(added))
		return decimal.Zero
	}

	closed := min(qty, before.Abs())
	realized := price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(closed)))
	if before < 0 {
		realized = realized.Neg()
	}
	switch {
	case after == 0:
		p.EntryPrice = decimal.Zero
	case (after > 0) != (before > 0):
		p.EntryPrice = price
	}
	return realized
}

// Position returns a copy of the strategy's state.
func (l *Ledger) Position(id schema.StrategyID) (PositionState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return PositionState{}, errs.NewIntegrity("read position", id, exception.ErrUnknownStrategy)
	}
	return *p, nil
}

// Aggregate recomputes the instrument-wide view from the per-strategy records.
func (l *Ledger) Aggregate() AggregatePosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	realized := decimal.Zero
	for _, p := range l.positions {
		realized = realized.Add(p.RealizedPnL)
	}
	return AggregatePosition{
		TotalSignedPosition: l.totalLocked(),
		MaxAbsTotalPosition: l.cfg.MaxAbsTotalPosition,
		DailyLossLimit:      l.cfg.DailyLossLimit,
		CumulativeDailyPnL:  l.dailyPnL,
		RealizedPnL:         realized,
	}
}

func (l *Ledger) totalLocked() schema.Quantity {
	var total schema.Quantity
	for _, p := range l.positions {
		total += p.SignedPosition
	}
	return total
}

// Strategies lists registered strategies in id order.
func (l *Ledger) Strategies() []schema.StrategyID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]schema.StrategyID, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetEnabled flips the strategy's enabled flag and reports whether it changed.
func (l *Ledger) SetEnabled(id schema.StrategyID, enabled bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return false, errs.NewIntegrity("set enabled", id, exception.ErrUnknownStrategy)
	}
	changed := p.Enabled != enabled
	p.Enabled = enabled
	return changed, nil
}

// SetMaxAbsPosition replaces the strategy's absolute cap.
func (l *Ledger) SetMaxAbsPosition(id schema.StrategyID, limit schema.Quantity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return errs.NewIntegrity("set max position", id, exception.ErrUnknownStrategy)
	}
	p.MaxAbsPosition = limit
	return nil
}

// MarkToMarket refreshes unrealized P&L at price.
func (l *Ledger) MarkToMarket(price schema.Price) {
	if price <= 0 {
		return
	}
	px := price.Decimal()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.positions {
		if p.SignedPosition == 0 {
			p.UnrealizedPnL = decimal.Zero
			continue
		}
		p.UnrealizedPnL = px.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.SignedPosition)))
	}
}

// ResetDaily zeroes the daily P&L and re-enables every strategy.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = decimal.Zero
	for _, p := range l.positions {
		p.Enabled = true
	}
}
