package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/schema"
	"hftcore/internal/state"
)

const (
	defaultMinWeight         = 0.1
	defaultMaxWeight         = 0.6
	defaultMinPosition       = 100
	defaultPerformanceWindow = 100
	minRoundTripsForSharpe   = 10
	weightInertia            = 0.7
)

// GovernorConfig controls per-strategy loss limits and limit scaling.
type GovernorConfig struct {
	MaxTotalPosition    schema.Quantity
	StrategyLossLimit   decimal.Decimal
	ProfitTarget        decimal.Decimal
	PositionReduceRatio float64
	MinPosition         schema.Quantity
	PerformanceWindow   int
	RebalanceInterval   int
	MinWeight           float64
	MaxWeight           float64
	// Weights derive MaxAbsPosition for the listed strategies. Strategies
	// without a weight keep their configured limit.
	Weights map[schema.StrategyID]float64
}

func (c GovernorConfig) withDefaults() GovernorConfig {
	if c.MinPosition <= 0 {
		c.MinPosition = defaultMinPosition
	}
	if c.PerformanceWindow <= 0 {
		c.PerformanceWindow = defaultPerformanceWindow
	}
	if c.MinWeight <= 0 {
		c.MinWeight = defaultMinWeight
	}
	if c.MaxWeight <= 0 {
		c.MaxWeight = defaultMaxWeight
	}
	if c.PositionReduceRatio <= 0 || c.PositionReduceRatio > 1 {
		c.PositionReduceRatio = 1
	}
	return c
}

// TransitionKind names an observable strategy state change.
type TransitionKind uint8

const (
	TransitionDisabled TransitionKind = iota + 1
	TransitionEnabled
	TransitionLimitChanged
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionDisabled:
		return "disabled"
	case TransitionEnabled:
		return "enabled"
	case TransitionLimitChanged:
		return "limit_changed"
	default:
		return "unknown"
	}
}

// Transition is a state change made by the governor.
type Transition struct {
	StrategyID schema.StrategyID
	Kind       TransitionKind
	Limit      schema.Quantity
	Weight     float64
	Detail     string
}

// Controller is the slice of the ledger the governor may change. It never
// touches positions or cost basis.
type Controller interface {
	state.Reader
	SetEnabled(id schema.StrategyID, enabled bool) (bool, error)
	SetMaxAbsPosition(id schema.StrategyID, limit schema.Quantity) error
	ResetDaily()
}

// Governor applies degraded-mode transitions after fills.
type Governor struct {
	cfg      GovernorConfig
	ledger   Controller
	weights  map[schema.StrategyID]float64
	tripPnL  map[schema.StrategyID]decimal.Decimal
	recent   map[schema.StrategyID][]float64
	trips    int
	reduced  bool
	disabled map[schema.StrategyID]bool
}

// NewGovernor creates a governor over ledger.
func NewGovernor(cfg GovernorConfig, ledger Controller) *Governor {
	cfg = cfg.withDefaults()
	weights := make(map[schema.StrategyID]float64, len(cfg.Weights))
	for id, w := range cfg.Weights {
		weights[id] = w
	}
	return &Governor{
		cfg:      cfg,
		ledger:   ledger,
		weights:  weights,
		tripPnL:  make(map[schema.StrategyID]decimal.Decimal),
		recent:   make(map[schema.StrategyID][]float64),
		disabled: make(map[schema.StrategyID]bool),
	}
}

// Init applies weight-derived limits.
func (g *Governor) Init() []Transition {
	return g.updateLimits("init")
}

// Weights returns a copy of the current weights.
func (g *Governor) Weights() map[schema.StrategyID]float64 {
	out := make(map[schema.StrategyID]float64, len(g.weights))
	for id, w := range g.weights {
		out[id] = w
	}
	return out
}

// Reduced reports whether the profit target has scaled limits down.
func (g *Governor) Reduced() bool {
	return g.reduced
}

// OnFill evaluates loss limit, profit target and rebalance after a fill was
// applied to the ledger.
func (g *Governor) OnFill(applied state.Applied) []Transition {
	var out []Transition
	id := applied.StrategyID
	g.tripPnL[id] = g.tripPnL[id].Add(applied.RealizedPnL)

	if g.cfg.StrategyLossLimit.IsPositive() && applied.Position.Enabled &&
		applied.Position.RealizedPnL.LessThanOrEqual(g.cfg.StrategyLossLimit.Neg()) {
		if changed, err := g.ledger.SetEnabled(id, false); err == nil && changed {
			g.disabled[id] = true
			out = append(out, Transition{
				StrategyID: id,
				Kind:       TransitionDisabled,
				Detail:     fmt.Sprintf("realized %s breached loss limit %s", applied.Position.RealizedPnL, g.cfg.StrategyLossLimit),
			})
		}
	}

	if !applied.Flattened() {
		return out
	}

	trip, _ := g.tripPnL[id].Float64()
	g.tripPnL[id] = decimal.Zero
	window := append(g.recent[id], trip)
	if len(window) > g.cfg.PerformanceWindow {
		window = window[len(window)-g.cfg.PerformanceWindow:]
	}
	g.recent[id] = window
	g.trips++

	if g.cfg.ProfitTarget.IsPositive() && !g.reduced &&
		g.ledger.Aggregate().CumulativeDailyPnL.GreaterThanOrEqual(g.cfg.ProfitTarget) {
		g.reduced = true
		out = append(out, g.updateLimits("profit target reached")...)
	}

	if g.cfg.RebalanceInterval > 0 && g.trips%g.cfg.RebalanceInterval == 0 {
		if g.rebalance() {
			out = append(out, g.updateLimits("rebalance")...)
		}
	}
	return out
}

// ResetDaily re-enables every strategy and restores full-size limits.
func (g *Governor) ResetDaily() []Transition {
	g.ledger.ResetDaily()
	g.reduced = false
	var out []Transition
	for _, id := range sortedIDs(g.disabled) {
		out = append(out, Transition{StrategyID: id, Kind: TransitionEnabled, Detail: "daily reset"})
	}
	g.disabled = make(map[schema.StrategyID]bool)
	return append(out, g.updateLimits("daily reset")...)
}

// rebalance moves weights toward each strategy's share of positive Sharpe.
func (g *Governor) rebalance() bool {
	sharpes := make(map[schema.StrategyID]float64, len(g.weights))
	var total float64
	for id := range g.weights {
		pos, err := g.ledger.Position(id)
		if err != nil || !pos.Enabled || len(g.recent[id]) < minRoundTripsForSharpe {
			continue
		}
		s := math.Max(0, sharpe(g.recent[id]))
		sharpes[id] = s
		total += s
	}
	if total <= 0 {
		return false
	}

	var sum float64
	for id, old := range g.weights {
		w := old*weightInertia + sharpes[id]/total*(1-weightInertia)
		w = math.Max(g.cfg.MinWeight, math.Min(g.cfg.MaxWeight, w))
		g.weights[id] = w
		sum += w
	}
	for id := range g.weights {
		g.weights[id] /= sum
	}
	return true
}

func (g *Governor) updateLimits(cause string) []Transition {
	if g.cfg.MaxTotalPosition <= 0 {
		return nil
	}
	ratio := 1.0
	if g.reduced {
		ratio = g.cfg.PositionReduceRatio
	}
	var out []Transition
	for _, id := range sortedIDs(g.weights) {
		w := g.weights[id]
		limit := max(schema.Quantity(math.Round(float64(g.cfg.MaxTotalPosition)*w*ratio)), g.cfg.MinPosition)
		pos, err := g.ledger.Position(id)
		if err != nil || pos.MaxAbsPosition == limit {
			continue
		}
		if err := g.ledger.SetMaxAbsPosition(id, limit); err != nil {
			logs.Errorf("set max position failed, strategy: %s, err: %+v", id, err)
			continue
		}
		out = append(out, Transition{
			StrategyID: id,
			Kind:       TransitionLimitChanged,
			Limit:      limit,
			Weight:     w,
			Detail:     cause,
		})
	}
	return out
}

func sharpe(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		return 0
	}
	return mean / std
}

func sortedIDs[V any](m map[schema.StrategyID]V) []schema.StrategyID {
	ids := make([]schema.StrategyID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
