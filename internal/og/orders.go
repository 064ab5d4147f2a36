package og

import (
	"cmp"
	"slices"
	"time"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateSent
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	// OrderStateExpired orders no longer count as open, but a late fill for
	// them is still applied.
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStateSent:
		return "sent"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateRejected:
		return "rejected"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is the core's view of a submitted signal.
type Order struct {
	ID         string
	SignalID   uint64
	StrategyID schema.StrategyID
	Side       schema.OrderSide
	Price      schema.Price
	Qty        schema.Quantity
	LeavesQty  schema.Quantity
	Reason     string
	// Ts is the quote time the signal was produced at.
	Ts    int64
	State OrderState
}

// OrderBook remembers which strategy issued each order id.
type OrderBook struct {
	orders map[string]*Order
}

// NewOrderBook creates an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{orders: make(map[string]*Order)}
}

// Track records a submitted signal under its gateway order id.
func (b *OrderBook) Track(orderID string, signal schema.OrderSignal) (*Order, error) {
	if orderID == "" {
		return nil, exception.ErrInvalidArgument
	}
	if _, ok := b.orders[orderID]; ok {
		return nil, exception.ErrDuplicateOrder
	}
	o := &Order{
		ID:         orderID,
		SignalID:   signal.SignalID,
		StrategyID: signal.StrategyID,
		Side:       signal.Side,
		Price:      signal.Price,
		Qty:        signal.Qty,
		LeavesQty:  signal.Qty,
		Reason:     signal.Reason,
		Ts:         signal.Ts,
		State:      OrderStateSent,
	}
	b.orders[orderID] = o
	return o, nil
}

// Order returns the tracked order.
func (b *OrderBook) Order(id string) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Open returns the number of orders still waiting for fills.
func (b *OrderBook) Open() int {
	var n int
	for _, o := range b.orders {
		if isLive(o.State) {
			n++
		}
	}
	return n
}

// Expire moves every open order produced at least timeout before now to
// Expired and returns them ordered by signal id.
func (b *OrderBook) Expire(now int64, timeout time.Duration) []Order {
	if timeout <= 0 {
		return nil
	}
	var out []Order
	for _, o := range b.orders {
		if isLive(o.State) && o.Ts > 0 && now-o.Ts >= timeout.Nanoseconds() {
			o.State = OrderStateExpired
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b Order) int {
		return cmp.Compare(a.SignalID, b.SignalID)
	})
	return out
}

// Pending returns the quantity id's open orders may still buy and sell.
func (b *OrderBook) Pending(id schema.StrategyID) (buy, sell schema.Quantity) {
	for _, o := range b.orders {
		if o.StrategyID == id {
			buy, sell = o.addLeaves(buy, sell)
		}
	}
	return buy, sell
}

// PendingTotal returns the quantity every open order may still buy and sell.
func (b *OrderBook) PendingTotal() (buy, sell schema.Quantity) {
	for _, o := range b.orders {
		buy, sell = o.addLeaves(buy, sell)
	}
	return buy, sell
}

func (o *Order) addLeaves(buy, sell schema.Quantity) (schema.Quantity, schema.Quantity) {
	if !isLive(o.State) {
		return buy, sell
	}
	switch o.Side {
	case schema.OrderSideBuy:
		buy += o.LeavesQty
	case schema.OrderSideSell:
		sell += o.LeavesQty
	}
	return buy, sell
}

// check validates a fill against the tracked order without changing it.
// Fills for orders the book never saw pass through; their owner is taken
// from the fill itself.
func (b *OrderBook) check(fill schema.Fill) error {
	o, ok := b.orders[fill.OrderID]
	if !ok {
		return nil
	}
	if o.StrategyID != fill.StrategyID {
		return exception.ErrStrategyMismatch
	}
	if isTerminal(o.State) {
		return exception.ErrInvalidTransition
	}
	if fill.Qty > o.LeavesQty {
		return exception.ErrInvalidFill
	}
	return nil
}

func (b *OrderBook) commit(fill schema.Fill) {
	o, ok := b.orders[fill.OrderID]
	if !ok {
		return
	}
	o.LeavesQty -= fill.Qty
	if o.LeavesQty <= 0 {
		o.LeavesQty = 0
		o.State = OrderStateFilled
		return
	}
	if o.State != OrderStateExpired {
		o.State = OrderStatePartFilled
	}
}

// Cancel marks an order canceled. Canceling a terminal order is an error.
func (b *OrderBook) Cancel(id string) error {
	return b.finish(id, OrderStateCanceled)
}

// Reject marks an order rejected by the venue.
func (b *OrderBook) Reject(id string) error {
	return b.finish(id, OrderStateRejected)
}

func (b *OrderBook) finish(id string, state OrderState) error {
	o, ok := b.orders[id]
	if !ok {
		return exception.ErrInvalidArgument
	}
	if isTerminal(o.State) {
		return exception.ErrInvalidTransition
	}
	o.State = state
	return nil
}

func isLive(state OrderState) bool {
	return state == OrderStateSent || state == OrderStatePartFilled
}

func isTerminal(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}
