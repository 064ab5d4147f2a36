// Package exit decides when an open position is closed. One Engine tracks
// one strategy's position.
package exit

import (
	"github.com/yanun0323/logs"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config holds tick-based thresholds. Trailing and Dynamic are mutually
// exclusive; when both are set Dynamic wins.
type Config struct {
	TickSize float64 `json:"tickSize" yaml:"tickSize"`
	// StopLossTicks <= 0 disables the stop-loss.
	StopLossTicks   float64 `json:"stopLossTicks" yaml:"stopLossTicks"`
	TakeProfitTicks float64 `json:"takeProfitTicks" yaml:"takeProfitTicks"`

	Trailing                bool    `json:"trailing" yaml:"trailing"`
	TrailingActivationTicks float64 `json:"trailingActivationTicks" yaml:"trailingActivationTicks"`
	TrailingDistanceTicks   float64 `json:"trailingDistanceTicks" yaml:"trailingDistanceTicks"`

	Dynamic                     bool    `json:"dynamic" yaml:"dynamic"`
	DynamicProfitThresholdTicks float64 `json:"dynamicProfitThresholdTicks" yaml:"dynamicProfitThresholdTicks"`
	DynamicReversalTicks        float64 `json:"dynamicReversalTicks" yaml:"dynamicReversalTicks"`
}

// Validate rejects configurations that can never evaluate.
func (c Config) Validate() error {
	if c.TickSize <= 0 {
		return exception.ErrInvalidConfig
	}
	if c.Trailing && (c.TrailingActivationTicks < 0 || c.TrailingDistanceTicks <= 0) {
		return exception.ErrInvalidConfig
	}
	if c.Dynamic && c.DynamicReversalTicks <= 0 {
		return exception.ErrInvalidConfig
	}
	return nil
}

func (c Config) trailing() bool {
	return c.Trailing && !c.Dynamic
}

// Phase is the lifecycle of the tracked position.
type Phase uint8

const (
	PhaseFlat Phase = iota
	PhaseOpen
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseFlat:
		return "flat"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Action is a request to flatten the whole position.
type Action struct {
	Reason   schema.ExitReason
	Side     schema.OrderSide
	Qty      schema.Quantity
	Price    schema.Price
	PnLTicks float64
}

// Engine is not safe for concurrent use; the owning strategy serializes it.
type Engine struct {
	cfg    Config
	name   string
	phase  Phase
	pos    schema.Quantity
	entry  schema.Price
	best   schema.Price
	seen   bool
	active bool
}

// NewEngine creates a flat engine. name prefixes log lines.
func NewEngine(name string, cfg Config) *Engine {
	return &Engine{cfg: cfg, name: name}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Best returns the most favorable price since the excursion began.
func (e *Engine) Best() (schema.Price, bool) {
	return e.best, e.seen
}

// TrailingActive reports whether the trailing stop has armed.
func (e *Engine) TrailingActive() bool {
	return e.active
}

// Position returns the position last passed to Sync.
func (e *Engine) Position() schema.Quantity {
	return e.pos
}

// Sync updates the tracked position after a fill. entry is the price P&L is
// measured against. Reaching flat or flipping sides clears the excursion.
func (e *Engine) Sync(position schema.Quantity, entry schema.Price) {
	prev := e.pos
	e.pos, e.entry = position, entry

	switch {
	case position == 0:
		e.reset()
	case prev == 0, (prev > 0) != (position > 0):
		e.reset()
		e.phase = PhaseOpen
	case e.phase == PhaseFlat:
		e.phase = PhaseOpen
	}
}

// CloseFailed returns a Closing engine to Open so the next update may retry.
func (e *Engine) CloseFailed() {
	if e.phase == PhaseClosing {
		e.phase = PhaseOpen
	}
}

// Reset forgets the position entirely.
func (e *Engine) Reset() {
	e.pos, e.entry = 0, 0
	e.reset()
}

func (e *Engine) reset() {
	e.phase = PhaseFlat
	e.best, e.seen, e.active = 0, false, false
}

// PnLTicks returns the signed P&L of the position at price, in ticks.
func (e *Engine) PnLTicks(price schema.Price) float64 {
	if e.pos == 0 || e.entry <= 0 {
		return 0
	}
	pnl := schema.TicksBetween(e.entry, price, e.cfg.TickSize)
	if e.pos < 0 {
		return -pnl
	}
	return pnl
}

// Evaluate runs the exit rules against price. At most one action is returned
// and the engine moves to Closing when it does.
func (e *Engine) Evaluate(price schema.Price) (Action, bool) {
	if e.phase != PhaseOpen || e.pos == 0 || price <= 0 {
		return Action{}, false
	}
	pnl := e.PnLTicks(price)

	switch {
	case e.cfg.Dynamic:
		e.track(price)
	case e.cfg.trailing() && pnl >= 0:
		e.track(price)
	}

	if e.cfg.StopLossTicks > 0 && pnl <= -e.cfg.StopLossTicks {
		return e.close(schema.ExitStopLoss, price, pnl), true
	}

	if e.cfg.trailing() {
		if !e.active && pnl >= e.cfg.TrailingActivationTicks {
			e.active = true
			logs.Debugf("%s trailing stop armed, pnl: %.1fT, best: %v", e.name, pnl, e.best)
		}
		if e.active && e.seen && e.retrace(price) >= e.cfg.TrailingDistanceTicks {
			return e.close(schema.ExitTrailingStop, price, pnl), true
		}
		return Action{}, false
	}

	if e.cfg.Dynamic {
		// Below the threshold the position is held whatever the loss.
		if pnl >= e.cfg.DynamicProfitThresholdTicks && e.retrace(price) >= e.cfg.DynamicReversalTicks {
			return e.close(schema.ExitDynamic, price, pnl), true
		}
		return Action{}, false
	}

	if e.cfg.TakeProfitTicks > 0 && pnl >= e.cfg.TakeProfitTicks {
		return e.close(schema.ExitTakeProfit, price, pnl), true
	}
	return Action{}, false
}

// Force closes the open position for a rule evaluated outside the engine,
// such as a time stop.
func (e *Engine) Force(reason schema.ExitReason, price schema.Price) (Action, bool) {
	if e.phase != PhaseOpen || e.pos == 0 || price <= 0 {
		return Action{}, false
	}
	return e.close(reason, price, e.PnLTicks(price)), true
}

func (e *Engine) track(price schema.Price) {
	switch {
	case !e.seen:
		e.best, e.seen = price, true
	case e.pos > 0 && price > e.best:
		e.best = price
	case e.pos < 0 && price < e.best:
		e.best = price
	}
}

// retrace returns how far price has moved against the best price, in ticks.
func (e *Engine) retrace(price schema.Price) float64 {
	if !e.seen {
		return 0
	}
	if e.pos > 0 {
		return schema.TicksBetween(price, e.best, e.cfg.TickSize)
	}
	return schema.TicksBetween(e.best, price, e.cfg.TickSize)
}

func (e *Engine) close(reason schema.ExitReason, price schema.Price, pnl float64) Action {
	e.phase = PhaseClosing
	a := Action{
		Reason:   reason,
		Side:     schema.SideToClose(e.pos),
		Qty:      e.pos.Abs(),
		Price:    price,
		PnLTicks: pnl,
	}
	logs.Infof("%s exit triggered, reason: %s, side: %s, qty: %d, price: %v, pnl: %.1fT", e.name, reason, a.Side, a.Qty, price, pnl)
	return a
}
