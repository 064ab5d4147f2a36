package schema

import (
	"math"

	"github.com/shopspring/decimal"
)

// Price is an instrument price in quote currency.
type Price float64

// Quantity is a signed share/contract count.
type Quantity int64

// Abs returns the magnitude of q.
func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// Decimal converts the price for money arithmetic.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromFloat(float64(p))
}

// tickPlaces is the precision tick distances are rounded to before they are
// compared against thresholds.
const tickPlaces = 6

// TicksBetween returns to - from in tick units, computed in decimal so that
// 99.7 - 100 at a 0.1 tick is exactly -3.
func TicksBetween(from, to Price, tickSize float64) float64 {
	if tickSize <= 0 {
		return 0
	}
	return to.Decimal().Sub(from.Decimal()).Div(decimal.NewFromFloat(tickSize)).Round(tickPlaces).InexactFloat64()
}

// Quote is a normalized top-of-book update. BidPrice <= AskPrice is assumed.
type Quote struct {
	SymbolID  uint32   `json:"symbolId"`
	BidPrice  Price    `json:"bid"`
	AskPrice  Price    `json:"ask"`
	LastPrice Price    `json:"last"`
	BidSize   Quantity `json:"bidSize"`
	AskSize   Quantity `json:"askSize"`
	// Volume is the cumulative traded volume of the session.
	Volume Quantity `json:"volume"`
	Ts     int64    `json:"ts"`
}

// Mid returns the mid price, falling back to the last trade.
func (q Quote) Mid() Price {
	if q.BidPrice > 0 && q.AskPrice > 0 {
		return (q.BidPrice + q.AskPrice) / 2
	}
	return q.LastPrice
}

// Reference returns the price strategies evaluate against.
func (q Quote) Reference() Price {
	if q.LastPrice > 0 {
		return q.LastPrice
	}
	return q.Mid()
}

// Spread returns ask minus bid, or zero if either side is missing.
func (q Quote) Spread() Price {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return q.AskPrice - q.BidPrice
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether s is Buy or Sell.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Delta returns the signed position change of qty on this side.
func (s OrderSide) Delta(qty Quantity) Quantity {
	switch s {
	case OrderSideBuy:
		return qty
	case OrderSideSell:
		return -qty
	default:
		return 0
	}
}

// Opposite returns the closing side.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideUnknown
	}
}

// SideToClose returns the side that flattens a signed position.
func SideToClose(position Quantity) OrderSide {
	switch {
	case position > 0:
		return OrderSideSell
	case position < 0:
		return OrderSideBuy
	default:
		return OrderSideUnknown
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// OrderSignal is a strategy's intended order. It is consumed once by the
// admission controller.
type OrderSignal struct {
	SignalID   uint64
	StrategyID StrategyID
	SymbolID   uint32
	Side       OrderSide
	Type       OrderType
	Qty        Quantity
	Price      Price
	Reason     string
	Ts         int64
}

// Fill is an execution report. StrategyID is copied verbatim from the
// originating signal.
type Fill struct {
	OrderID    string          `json:"orderId"`
	ExecID     string          `json:"execId"`
	StrategyID StrategyID      `json:"strategyId"`
	SymbolID   uint32          `json:"symbolId"`
	Side       OrderSide       `json:"side"`
	Qty        Quantity        `json:"qty"`
	Price      Price           `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Ts         int64           `json:"ts"`
}

// DedupeKey identifies a fill for exactly-once routing.
func (f Fill) DedupeKey() string {
	if f.ExecID != "" {
		return f.ExecID
	}
	return f.OrderID
}

// RiskAction is the decision outcome for a signal.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

func (a RiskAction) String() string {
	switch a {
	case RiskActionAllow:
		return "allow"
	case RiskActionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// RiskReason annotates a risk decision.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonStrategyDisabled
	RiskReasonDailyLoss
	RiskReasonStrategyLimit
	RiskReasonAggregateLimit
	RiskReasonKillSwitch
	RiskReasonMaxQty
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonStrategyDisabled:
		return "strategy disabled"
	case RiskReasonDailyLoss:
		return "daily loss limit breached"
	case RiskReasonStrategyLimit:
		return "strategy position limit"
	case RiskReasonAggregateLimit:
		return "aggregate position limit"
	case RiskReasonKillSwitch:
		return "kill switch"
	case RiskReasonMaxQty:
		return "max order quantity"
	default:
		return "unknown"
	}
}

// Label returns a metrics-safe form of the reason.
func (r RiskReason) Label() string {
	switch r {
	case RiskReasonStrategyDisabled:
		return "strategy_disabled"
	case RiskReasonDailyLoss:
		return "daily_loss"
	case RiskReasonStrategyLimit:
		return "strategy_limit"
	case RiskReasonAggregateLimit:
		return "aggregate_limit"
	case RiskReasonKillSwitch:
		return "kill_switch"
	case RiskReasonMaxQty:
		return "max_qty"
	default:
		return "none"
	}
}

// RiskDecision is the admission outcome for one signal.
type RiskDecision struct {
	SignalID     uint64
	StrategyID   StrategyID
	Side         OrderSide
	Qty          Quantity
	Action       RiskAction
	Reason       RiskReason
	CurrentPos   Quantity
	NextPos      Quantity
	MaxPos       Quantity
	CurrentTotal Quantity
	NextTotal    Quantity
	MaxTotal     Quantity
}

// Allowed reports whether the signal may be submitted.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitDynamic      ExitReason = "dynamic_exit"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTimeStop     ExitReason = "time_stop"
	ExitRangeBreak   ExitReason = "range_break"
)

// IsExitReason reports whether a signal reason names an exit rule.
func IsExitReason(reason string) bool {
	switch ExitReason(reason) {
	case ExitStopLoss, ExitTrailingStop, ExitDynamic, ExitTakeProfit, ExitTimeStop, ExitRangeBreak:
		return true
	default:
		return false
	}
}

// RoundPrice snaps p to the nearest multiple of tickSize.
func RoundPrice(p Price, tickSize float64) Price {
	if tickSize <= 0 {
		return p
	}
	return Price(math.Round(float64(p)/tickSize) * tickSize)
}
