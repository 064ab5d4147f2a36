/*
Core implements the single-writer strategy executor.

# Module
  - in-memory bus: quotes and fills arrive as one ordered stream
  - strategy runtime: every strategy sees every quote, in registration order
  - admission: each signal is evaluated against the ledger, then against the
    ledger plus every open order on the same side
  - execution: allowed signals go to the gateway and are tracked in the order book
  - fill routing: fills reach the ledger and their owning strategy exactly once
  - governor: loss limits, profit target scaling and weight rebalance after fills

# Source
 1. quotes from the paper command's replay file
 2. fills published back by the gateway

# Produce
  - orders to the gateway
  - metrics, logs and audit records for every denial, integrity error,
    exit trigger and strategy transition
*/
package core

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/audit"
	"hftcore/internal/bus"
	errs "hftcore/internal/errors"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/risk"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/internal/strategy"
	"hftcore/pkg/exception"
)

// Config holds the engine-level settings.
type Config struct {
	Risk     risk.Config
	Governor risk.GovernorConfig
	// OrderTimeout, in quote time, hands an unfilled order back to its
	// strategy. Zero waits for fills forever.
	OrderTimeout time.Duration
}

// Deps are the collaborators the engine drives. Ledger and Gateway are
// required; the rest may be nil.
type Deps struct {
	Ledger    *state.Ledger
	Gateway   og.Gateway
	Metrics   *obs.Metrics
	Collector *obs.Collector
	Audit     *audit.Recorder
	IDs       *obs.SignalIDs
}

// Engine owns the read-evaluate-write cycle for every event.
type Engine struct {
	mu           sync.Mutex
	orderTimeout time.Duration
	ledger       *state.Ledger
	gateway      og.Gateway
	book         *og.OrderBook
	router       *og.Router
	risk         *risk.Engine
	governor     *risk.Governor
	metrics      *obs.Metrics
	collector    *obs.Collector
	audit        *audit.Recorder
	ids          *obs.SignalIDs
	strategies   []strategy.Strategy
}

// New wires the engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Ledger == nil || deps.Gateway == nil {
		return nil, errs.Wrap(exception.ErrNilInstance, "core needs a ledger and a gateway")
	}
	if deps.IDs == nil {
		deps.IDs = obs.NewSignalIDs(0)
	}
	book := og.NewOrderBook()
	e := &Engine{
		orderTimeout: cfg.OrderTimeout,
		ledger:       deps.Ledger,
		gateway:      deps.Gateway,
		book:         book,
		router:       og.NewRouter(deps.Ledger, book),
		risk:         risk.NewEngine(cfg.Risk, deps.Ledger).WithPending(book),
		governor:     risk.NewGovernor(cfg.Governor, deps.Ledger),
		metrics:      deps.Metrics,
		collector:    deps.Collector,
		audit:        deps.Audit,
		ids:          deps.IDs,
	}
	e.transitions(context.Background(), e.governor.Init())
	return e, nil
}

// Register adds a strategy. The ledger must already know its id.
func (e *Engine) Register(s strategy.Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.ledger.Position(s.ID()); err != nil {
		return err
	}
	if err := e.router.Register(s.ID(), s); err != nil {
		return err
	}
	e.strategies = append(e.strategies, s)
	logs.Infof("[%s] registered", s.ID())
	return nil
}

// Resync aligns every strategy's exit state with the ledger, e.g. after a
// snapshot restore.
func (e *Engine) Resync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.strategies {
		if r, ok := s.(interface{ Resync() }); ok {
			r.Resync()
		}
	}
}

// Run consumes the queue until ctx is done or the queue is closed. Events
// that fail are already logged, counted and audited by Handle.
func (e *Engine) Run(ctx context.Context, q *bus.Queue) {
	q.Run(ctx, func(ev bus.Event) {
		if err := e.Handle(ctx, ev); err != nil {
			logs.Debugf("event not applied, seq: %d, err: %v", ev.Header.Seq, err)
		}
	})
}

// Handle dispatches one bus event. The error is the fill routing error, or
// ErrInvalidArgument for an event type the engine does not consume.
func (e *Engine) Handle(ctx context.Context, ev bus.Event) error {
	switch ev.Header.Type {
	case schema.EventQuote:
		e.OnQuote(ctx, ev.Quote)
		return nil
	case schema.EventFill:
		return e.OnFill(ctx, ev.Fill)
	default:
		logs.Warnf("unexpected event, type: %s, seq: %d", ev.Header.Type, ev.Header.Seq)
		return errs.Wrapf(exception.ErrInvalidArgument, "event type %s", ev.Header.Type)
	}
}

// OnQuote marks the ledger to market and runs every strategy once.
func (e *Engine) OnQuote(ctx context.Context, quote schema.Quote) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if ref := quote.Reference(); ref > 0 {
		e.ledger.MarkToMarket(ref)
	}
	e.expire(ctx, quote.Ts)
	for _, s := range e.strategies {
		s.OnPriceUpdate(quote)
		sig, ok := s.CurrentSignal()
		if !ok {
			continue
		}
		e.admit(ctx, s, sig)
	}
	e.publishAggregate()
	e.metrics.ObserveQuote(time.Since(start))
}

// admit runs one signal through admission and submission. Every path that
// does not reach the gateway hands the signal back to its strategy.
func (e *Engine) admit(ctx context.Context, s strategy.Strategy, sig schema.OrderSignal) {
	sig.SignalID = e.ids.Next()
	e.metrics.IncSignal()
	if schema.IsExitReason(sig.Reason) {
		e.metrics.IncExit()
		e.collector.Exit(sig.StrategyID, sig.Reason)
		e.audit.Record(ctx, audit.Record{
			Kind:       audit.KindExit,
			StrategyID: sig.StrategyID.String(),
			SignalID:   sig.SignalID,
			Reason:     sig.Reason,
		})
	}

	evalStart := time.Now()
	decision, err := e.risk.Evaluate(sig)
	e.metrics.ObserveRiskEval(time.Since(evalStart))
	if err != nil {
		e.integrity(ctx, "evaluate", sig.StrategyID, err)
		e.reject(s, sig)
		return
	}
	e.metrics.ObserveDecision(decision)
	e.collector.Decision(decision)
	if !decision.Allowed() {
		logs.Warnf("[%s] signal denied, signal: %d, reason: %s, side: %s, qty: %d, pos: %d -> %d, total: %d -> %d",
			sig.StrategyID, sig.SignalID, decision.Reason, sig.Side, sig.Qty,
			decision.CurrentPos, decision.NextPos, decision.CurrentTotal, decision.NextTotal)
		e.audit.Deny(ctx, sig, decision)
		e.reject(s, sig)
		return
	}

	submitStart := time.Now()
	orderID, err := e.gateway.Submit(ctx, sig)
	e.metrics.ObserveSubmit(time.Since(submitStart))
	if err != nil {
		logs.Errorf("[%s] submit failed, signal: %d, err: %+v", sig.StrategyID, sig.SignalID, err)
		e.metrics.IncSubmitFailure()
		e.audit.Record(ctx, audit.Record{
			Kind:       audit.KindSubmit,
			StrategyID: sig.StrategyID.String(),
			SignalID:   sig.SignalID,
			Reason:     sig.Reason,
			Detail:     err.Error(),
		})
		e.reject(s, sig)
		return
	}
	if _, err := e.book.Track(orderID, sig); err != nil {
		e.integrity(ctx, "track order", sig.StrategyID, errs.NewIntegrity("track order", sig.StrategyID, err).WithSignal(sig.SignalID).WithOrder(orderID))
		return
	}
	logs.Debugf("[%s] order sent, signal: %d, order: %s, side: %s, qty: %d, price: %v, reason: %s",
		sig.StrategyID, sig.SignalID, orderID, sig.Side, sig.Qty, sig.Price, sig.Reason)
}

// expire gives up on orders older than the order timeout. Their leaves go
// back to the owning strategy like a denied signal.
func (e *Engine) expire(ctx context.Context, now int64) {
	for _, o := range e.book.Expire(now, e.orderTimeout) {
		logs.Warnf("[%s] order expired, order: %s, signal: %d, side: %s, leaves: %d, reason: %s",
			o.StrategyID, o.ID, o.SignalID, o.Side, o.LeavesQty, o.Reason)
		e.metrics.IncExpired()
		e.audit.Record(ctx, audit.Record{
			Kind:       audit.KindExpire,
			StrategyID: o.StrategyID.String(),
			SignalID:   o.SignalID,
			OrderID:    o.ID,
			Reason:     o.Reason,
		})
		s, ok := e.strategy(o.StrategyID)
		if !ok {
			continue
		}
		e.reject(s, schema.OrderSignal{
			SignalID:   o.SignalID,
			StrategyID: o.StrategyID,
			Side:       o.Side,
			Qty:        o.LeavesQty,
			Price:      o.Price,
			Reason:     o.Reason,
			Ts:         o.Ts,
		})
	}
}

func (e *Engine) strategy(id schema.StrategyID) (strategy.Strategy, bool) {
	for _, s := range e.strategies {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

func (e *Engine) reject(s strategy.Strategy, sig schema.OrderSignal) {
	if r, ok := s.(strategy.Rejecter); ok {
		r.OnReject(sig)
	}
}

// OnFill routes a fill to the ledger and its owner, then lets the governor
// react. An error means nothing was applied.
func (e *Engine) OnFill(ctx context.Context, fill schema.Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.router.Route(fill)
	if err != nil {
		e.integrity(ctx, "route", fill.StrategyID, err)
		return err
	}
	e.metrics.IncFill()
	e.collector.Fill(fill)
	e.collector.Position(applied.StrategyID, applied.After, applied.Position.RealizedPnL)
	e.publishAggregate()
	logs.Debugf("[%s] fill applied, order: %s, exec: %s, side: %s, qty: %d, price: %v, pos: %d -> %d, total: %d",
		fill.StrategyID, fill.OrderID, fill.ExecID, fill.Side, fill.Qty, fill.Price, applied.Before, applied.After, applied.Total)

	e.transitions(ctx, e.governor.OnFill(applied))
	return nil
}

// ResetDaily starts a new trading day.
func (e *Engine) ResetDaily(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions(ctx, e.governor.ResetDaily())
	logs.Infof("daily reset")
}

func (e *Engine) transitions(ctx context.Context, ts []risk.Transition) {
	for _, t := range ts {
		if t.Kind == risk.TransitionDisabled {
			logs.Warnf("[%s] strategy disabled, %s", t.StrategyID, t.Detail)
		} else {
			logs.Infof("[%s] strategy %s, limit: %d, weight: %.3f, cause: %s", t.StrategyID, t.Kind, t.Limit, t.Weight, t.Detail)
		}
		e.metrics.IncTransition()
		e.collector.Transition(t.StrategyID, t.Kind.String())
		e.audit.Record(ctx, audit.Record{
			Kind:       audit.KindTransition,
			StrategyID: t.StrategyID.String(),
			Reason:     t.Kind.String(),
			Detail:     t.Detail,
		})
	}
}

func (e *Engine) integrity(ctx context.Context, op string, id schema.StrategyID, err error) {
	rec := audit.Record{
		Kind:       audit.KindIntegrity,
		StrategyID: id.String(),
		Reason:     op,
		Detail:     err.Error(),
	}
	var ie *errs.Integrity
	if errs.As(err, &ie) {
		rec.SignalID = ie.SignalID
		rec.OrderID = ie.OrderID
	}
	logs.Errorf("[%s] integrity error, op: %s, err: %+v", id, op, err)
	e.metrics.IncIntegrityError()
	e.collector.IntegrityError(op)
	e.audit.Record(ctx, rec)
}

func (e *Engine) publishAggregate() {
	if e.collector == nil {
		return
	}
	agg := e.ledger.Aggregate()
	e.collector.Aggregate(agg.TotalSignedPosition, agg.CumulativeDailyPnL)
}

// Ledger returns the ledger the engine writes.
func (e *Engine) Ledger() *state.Ledger {
	return e.ledger
}

// Book returns the order book.
func (e *Engine) Book() *og.OrderBook {
	return e.book
}

// Governor returns the strategy governor.
func (e *Engine) Governor() *risk.Governor {
	return e.governor
}

// Statuses reports every strategy that exposes one.
func (e *Engine) Statuses() []strategy.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]strategy.Status, 0, len(e.strategies))
	for _, s := range e.strategies {
		if st, ok := s.(interface{ Status() strategy.Status }); ok {
			out = append(out, st.Status())
		}
	}
	return out
}
