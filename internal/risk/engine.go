package risk

import (
	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// Config holds optional guards on top of the ledger limits. Both apply only
// to signals that do not reduce exposure.
type Config struct {
	KillSwitch  bool            `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty schema.Quantity `json:"maxOrderQty" yaml:"maxOrderQty"`
}

// Pending reports the unsigned quantity open orders may still add on each
// side, per strategy and in total.
type Pending interface {
	Pending(id schema.StrategyID) (buy, sell schema.Quantity)
	PendingTotal() (buy, sell schema.Quantity)
}

// Engine is the admission controller. It reads the ledger and never writes it.
type Engine struct {
	cfg     Config
	ledger  state.Reader
	pending Pending
}

// NewEngine creates an admission controller over ledger.
func NewEngine(cfg Config, ledger state.Reader) *Engine {
	return &Engine{cfg: cfg, ledger: ledger}
}

// WithPending makes the position limits also hold if every open order on the
// signal's side fills and none on the other side does.
func (e *Engine) WithPending(p Pending) *Engine {
	e.pending = p
	return e
}

// SetConfig replaces the optional guards.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
}

// Evaluate decides whether signal may be submitted. Denials are returned as
// decisions; the error is reserved for signals that break the boundary
// contract.
func (e *Engine) Evaluate(signal schema.OrderSignal) (schema.RiskDecision, error) {
	if signal.Qty <= 0 {
		return schema.RiskDecision{}, errs.NewIntegrity("evaluate", signal.StrategyID, exception.ErrNonPositiveQuantity).WithSignal(signal.SignalID)
	}
	if !signal.Side.Valid() {
		return schema.RiskDecision{}, errs.NewIntegrity("evaluate", signal.StrategyID, exception.ErrUnknownSide).WithSignal(signal.SignalID)
	}
	pos, err := e.ledger.Position(signal.StrategyID)
	if err != nil {
		return schema.RiskDecision{}, errs.NewIntegrity("evaluate", signal.StrategyID, exception.ErrUnknownStrategy).WithSignal(signal.SignalID)
	}
	agg := e.ledger.Aggregate()

	delta := signal.Side.Delta(signal.Qty)
	decision := schema.RiskDecision{
		SignalID:   signal.SignalID,
		StrategyID: signal.StrategyID,
		Side:       signal.Side,
		Qty:        signal.Qty,
		Action:     schema.RiskActionAllow,
		Reason:     schema.RiskReasonNone,
		MaxPos:     pos.MaxAbsPosition,
		MaxTotal:   agg.MaxAbsTotalPosition,
	}
	decision = project(decision, pos.SignedPosition, agg.TotalSignedPosition, delta)
	strategyReducing := decision.NextPos.Abs() < decision.CurrentPos.Abs()

	if !pos.Enabled && decision.NextPos.Abs() > decision.CurrentPos.Abs() {
		return deny(decision, schema.RiskReasonStrategyDisabled), nil
	}

	if agg.DailyLossBreached() {
		return deny(decision, schema.RiskReasonDailyLoss), nil
	}

	if reason := limits(decision); reason != schema.RiskReasonNone {
		return deny(decision, reason), nil
	}

	if e.pending != nil {
		reserved := e.reserve(decision, signal, delta)
		if reason := limits(reserved); reason != schema.RiskReasonNone {
			return deny(reserved, reason), nil
		}
	}

	if !strategyReducing {
		if e.cfg.KillSwitch {
			return deny(decision, schema.RiskReasonKillSwitch), nil
		}
		if e.cfg.MaxOrderQty > 0 && signal.Qty > e.cfg.MaxOrderQty {
			return deny(decision, schema.RiskReasonMaxQty), nil
		}
	}

	return decision, nil
}

// reserve moves the decision's base onto the worst case of open orders:
// same-side leaves counted as filled, opposite-side leaves ignored.
func (e *Engine) reserve(d schema.RiskDecision, signal schema.OrderSignal, delta schema.Quantity) schema.RiskDecision {
	buy, sell := e.pending.Pending(signal.StrategyID)
	totalBuy, totalSell := e.pending.PendingTotal()
	if signal.Side == schema.OrderSideBuy {
		return project(d, d.CurrentPos+buy, d.CurrentTotal+totalBuy, delta)
	}
	return project(d, d.CurrentPos-sell, d.CurrentTotal-totalSell, delta)
}

func project(d schema.RiskDecision, pos, total, delta schema.Quantity) schema.RiskDecision {
	d.CurrentPos, d.NextPos = pos, pos+delta
	d.CurrentTotal, d.NextTotal = total, total+delta
	return d
}

// limits applies the per-strategy and aggregate caps. A move that shrinks a
// magnitude is exempt from that magnitude's cap.
func limits(d schema.RiskDecision) schema.RiskReason {
	if d.NextPos.Abs() > d.MaxPos && d.NextPos.Abs() >= d.CurrentPos.Abs() {
		return schema.RiskReasonStrategyLimit
	}
	if d.NextTotal.Abs() > d.MaxTotal && d.NextTotal.Abs() >= d.CurrentTotal.Abs() {
		return schema.RiskReasonAggregateLimit
	}
	return schema.RiskReasonNone
}

func deny(decision schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	decision.Action = schema.RiskActionDeny
	decision.Reason = reason
	return decision
}
