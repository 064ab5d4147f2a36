package og

import (
	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// Recipient receives fills for exactly one strategy.
type Recipient interface {
	OnFill(fill schema.Fill)
}

// Applier books a fill. *state.Ledger implements it.
type Applier interface {
	ApplyFill(fill schema.Fill) (state.Applied, error)
}

// Router delivers each fill once, to the strategy named on the fill.
type Router struct {
	ledger     Applier
	book       *OrderBook
	recipients map[schema.StrategyID]Recipient
	consumed   map[string]struct{}
}

// NewRouter creates a router. book may be nil when order tracking is not used.
func NewRouter(ledger Applier, book *OrderBook) *Router {
	if book == nil {
		book = NewOrderBook()
	}
	return &Router{
		ledger:     ledger,
		book:       book,
		recipients: make(map[schema.StrategyID]Recipient),
		consumed:   make(map[string]struct{}),
	}
}

// Register binds a strategy id to its recipient.
func (r *Router) Register(id schema.StrategyID, recipient Recipient) error {
	if !id.Valid() || recipient == nil {
		return errs.NewIntegrity("register recipient", id, exception.ErrUnknownStrategy)
	}
	if _, ok := r.recipients[id]; ok {
		return errs.NewIntegrity("register recipient", id, exception.ErrStrategyExists)
	}
	r.recipients[id] = recipient
	return nil
}

// Book returns the order book the router validates against.
func (r *Router) Book() *OrderBook {
	return r.book
}

// Consumed reports whether a dedupe key has already been applied.
func (r *Router) Consumed(key string) bool {
	_, ok := r.consumed[key]
	return ok
}

// Route applies fill to the ledger and notifies its owner. Every check runs
// before the ledger is touched; on error nothing is applied and nobody is
// notified.
func (r *Router) Route(fill schema.Fill) (state.Applied, error) {
	recipient, ok := r.recipients[fill.StrategyID]
	if !ok {
		return state.Applied{}, r.integrity(fill, exception.ErrUnroutableFill)
	}
	if fill.Qty <= 0 {
		return state.Applied{}, r.integrity(fill, exception.ErrNonPositiveQuantity)
	}
	key := fill.DedupeKey()
	if key == "" {
		return state.Applied{}, r.integrity(fill, exception.ErrInvalidArgument)
	}
	if _, seen := r.consumed[key]; seen {
		return state.Applied{}, r.integrity(fill, exception.ErrDuplicateFill)
	}
	if err := r.book.check(fill); err != nil {
		return state.Applied{}, r.integrity(fill, err)
	}

	applied, err := r.ledger.ApplyFill(fill)
	if err != nil {
		return state.Applied{}, errs.Wrap(err, "route fill")
	}
	r.consumed[key] = struct{}{}
	r.book.commit(fill)
	recipient.OnFill(fill)
	return applied, nil
}

func (r *Router) integrity(fill schema.Fill, err error) error {
	return errs.NewIntegrity("route", fill.StrategyID, err).WithOrder(fill.OrderID)
}
