// Package strategy holds the trading strategies driven by the core. Every
// strategy reads its position from the ledger and never books fills itself.
package strategy

import (
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

// Strategy is the capability set the core depends on.
type Strategy interface {
	ID() schema.StrategyID
	// OnPriceUpdate recomputes the strategy's intent for quote.
	OnPriceUpdate(quote schema.Quote)
	// OnFill is called once per fill owned by this strategy, after the
	// ledger has applied it.
	OnFill(fill schema.Fill)
	// CurrentSignal hands over the pending signal, if any. A signal is
	// returned at most once.
	CurrentSignal() (schema.OrderSignal, bool)
}

// Rejecter is implemented by strategies that must learn when a signal they
// produced was denied or could not be submitted.
type Rejecter interface {
	OnReject(signal schema.OrderSignal)
}

// Status is a point-in-time view used by logs and the CLI.
type Status struct {
	StrategyID schema.StrategyID
	Position   schema.Quantity
	InFlight   schema.Quantity
	ExitPhase  exit.Phase
}

// base carries the plumbing shared by every strategy.
type base struct {
	id       schema.StrategyID
	ledger   state.Reader
	exit     *exit.Engine
	signal   schema.OrderSignal
	ready    bool
	inflight schema.Quantity
	quote    schema.Quote
	// openedAt is the quote time the position left flat.
	openedAt int64
	opened   bool
	// entry is the price exit P&L is measured against.
	entry func(state.PositionState) schema.Price
}

func newBase(id schema.StrategyID, ledger state.Reader, exitCfg exit.Config, entry func(state.PositionState) schema.Price) base {
	return base{
		id:     id,
		ledger: ledger,
		exit:   exit.NewEngine("["+id.String()+"]", exitCfg),
		entry:  entry,
	}
}

func (b *base) ID() schema.StrategyID {
	return b.id
}

func (b *base) CurrentSignal() (schema.OrderSignal, bool) {
	if !b.ready {
		return schema.OrderSignal{}, false
	}
	sig := b.signal
	b.signal, b.ready = schema.OrderSignal{}, false
	b.inflight += sig.Qty
	return sig, true
}

func (b *base) OnReject(signal schema.OrderSignal) {
	b.inflight = max(b.inflight-signal.Qty, 0)
	if schema.IsExitReason(signal.Reason) {
		b.exit.CloseFailed()
	}
}

// Exit exposes the exit engine for inspection.
func (b *base) Exit() *exit.Engine {
	return b.exit
}

func (b *base) Status() Status {
	pos, _ := b.position()
	return Status{
		StrategyID: b.id,
		Position:   pos.SignedPosition,
		InFlight:   b.inflight,
		ExitPhase:  b.exit.Phase(),
	}
}

func (b *base) position() (state.PositionState, bool) {
	pos, err := b.ledger.Position(b.id)
	if err != nil {
		logs.Errorf("[%s] read position failed, err: %+v", b.id, err)
		return state.PositionState{}, false
	}
	return pos, true
}

// Resync aligns the exit engine with the ledger, e.g. after a restore.
func (b *base) Resync() {
	if pos, ok := b.position(); ok {
		b.exit.Sync(pos.SignedPosition, b.entry(pos))
	}
}

// settle releases in-flight quantity and resyncs the exit engine.
func (b *base) settle(fill schema.Fill) (state.PositionState, bool) {
	b.inflight = max(b.inflight-fill.Qty, 0)
	pos, ok := b.position()
	if !ok {
		return pos, false
	}
	b.exit.Sync(pos.SignedPosition, b.entry(pos))
	switch {
	case pos.SignedPosition == 0:
		b.opened = false
	case !b.opened:
		b.openedAt, b.opened = b.quote.Ts, true
	}
	return pos, true
}

func entryPrice(pos state.PositionState) schema.Price {
	f, _ := pos.EntryPrice.Float64()
	return schema.Price(f)
}

func averageCost(pos state.PositionState) schema.Price {
	f, _ := pos.Cost.AverageCost().Float64()
	return schema.Price(f)
}

// checkExit emits a close signal when the exit engine fires. It reports true
// when entries must be skipped for this update.
func (b *base) checkExit(quote schema.Quote) bool {
	if b.exit.Phase() == exit.PhaseClosing {
		return true
	}
	a, ok := b.exit.Evaluate(quote.Reference())
	if !ok {
		return false
	}
	b.emitExit(a, quote)
	return true
}

// forceExit closes the whole position at the touch for reason.
func (b *base) forceExit(quote schema.Quote, reason schema.ExitReason) bool {
	a, ok := b.exit.Force(reason, quote.Reference())
	if !ok {
		return false
	}
	b.emitExit(a, quote)
	return true
}

// checkTimeStop closes a position held for limit or longer. A zero limit
// disables it.
func (b *base) checkTimeStop(quote schema.Quote, limit time.Duration) bool {
	if limit <= 0 || !b.opened || time.Duration(quote.Ts-b.openedAt) < limit {
		return false
	}
	return b.forceExit(quote, schema.ExitTimeStop)
}

func (b *base) emitExit(a exit.Action, quote schema.Quote) {
	price := quote.Reference()
	switch {
	case a.Side == schema.OrderSideSell && quote.BidPrice > 0:
		price = quote.BidPrice
	case a.Side == schema.OrderSideBuy && quote.AskPrice > 0:
		price = quote.AskPrice
	}
	b.emit(a.Side, a.Qty, price, string(a.Reason))
}

func (b *base) emit(side schema.OrderSide, qty schema.Quantity, price schema.Price, reason string) {
	if qty <= 0 || !side.Valid() {
		return
	}
	b.signal = schema.OrderSignal{
		StrategyID: b.id,
		SymbolID:   b.quote.SymbolID,
		Side:       side,
		Type:       schema.OrderTypeLimit,
		Qty:        qty,
		Price:      price,
		Reason:     reason,
		Ts:         b.quote.Ts,
	}
	b.ready = true
}

func (b *base) busy() bool {
	return b.inflight > 0 || b.ready
}
