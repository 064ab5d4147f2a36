package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/exit"
	"hftcore/internal/indicator"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

const (
	// trendRawMax is the sum of the four score terms (30+20+20+10). Scores
	// are rescaled by 100/trendRawMax so the scale reaches 100.
	trendRawMax = 80.0

	// TrendEstablishedScore is the normalized score at which the trend is
	// established. Raw term sums are multiples of 10, so 40 normalized
	// (32 raw) admits exactly the raw sums >= 40.
	TrendEstablishedScore = 40.0

	maxEMADistance = 0.03
	minATRPct      = 0.003
	maxATRPct      = 0.02
	minRSI         = 40.0
	maxRSI         = 70.0
)

// TrendGridConfig controls the trend core and the price grid.
type TrendGridConfig struct {
	EMAFastWindow int `json:"emaFastWindow" yaml:"emaFastWindow"`
	EMASlowWindow int `json:"emaSlowWindow" yaml:"emaSlowWindow"`
	RSIPeriod     int `json:"rsiPeriod" yaml:"rsiPeriod"`
	ATRPeriod     int `json:"atrPeriod" yaml:"atrPeriod"`

	CorePos schema.Quantity `json:"corePos" yaml:"corePos"`
	MaxPos  schema.Quantity `json:"maxPos" yaml:"maxPos"`

	GridLevels int `json:"gridLevels" yaml:"gridLevels"`
	// GridStepPct is a percentage: 0.3 means 0.3%.
	GridStepPct float64         `json:"gridStepPct" yaml:"gridStepPct"`
	GridVolume  schema.Quantity `json:"gridVolume" yaml:"gridVolume"`

	FeePerSide        float64 `json:"feePerSide" yaml:"feePerSide"`
	MinProfitMultiple float64 `json:"minProfitMultiple" yaml:"minProfitMultiple"`

	CoreCooldown time.Duration `json:"coreCooldown" yaml:"coreCooldown"`
	TickSize     float64       `json:"tickSize" yaml:"tickSize"`
	Exit         exit.Config   `json:"exit" yaml:"exit"`
}

// DefaultTrendGridConfig returns the production defaults.
func DefaultTrendGridConfig() TrendGridConfig {
	return TrendGridConfig{
		EMAFastWindow:     20,
		EMASlowWindow:     60,
		RSIPeriod:         14,
		ATRPeriod:         14,
		CorePos:           1000,
		MaxPos:            2000,
		GridLevels:        3,
		GridStepPct:       0.3,
		GridVolume:        100,
		FeePerSide:        80,
		MinProfitMultiple: 2,
		CoreCooldown:      5 * time.Second,
		TickSize:          0.01,
		Exit: exit.Config{
			TickSize:                    0.01,
			TakeProfitTicks:             50,
			Trailing:                    true,
			TrailingActivationTicks:     3,
			TrailingDistanceTicks:       2,
			Dynamic:                     true,
			DynamicProfitThresholdTicks: 0.5,
			DynamicReversalTicks:        0.3,
		},
	}
}

// Validate checks the grid parameters.
func (c TrendGridConfig) Validate() error {
	if c.EMAFastWindow <= 0 || c.EMASlowWindow <= c.EMAFastWindow {
		return errs.Wrapf(exception.ErrInvalidConfig, "ema windows %d/%d", c.EMAFastWindow, c.EMASlowWindow)
	}
	if c.GridStepPct <= 0 || c.GridVolume <= 0 || c.GridLevels < 0 {
		return errs.Wrapf(exception.ErrInvalidConfig, "grid step %.3f volume %d levels %d", c.GridStepPct, c.GridVolume, c.GridLevels)
	}
	if c.MaxPos <= 0 || c.CorePos < 0 {
		return errs.Wrapf(exception.ErrInvalidConfig, "core %d max %d", c.CorePos, c.MaxPos)
	}
	return c.Exit.Validate()
}

// TrendInputs are the statistics the trend score is computed from.
type TrendInputs struct {
	Price   float64
	EMAFast float64
	EMASlow float64
	ATR     float64
	RSI     float64
}

// TrendScore returns the normalized score in [0, 100].
func TrendScore(in TrendInputs) float64 {
	if in.Price <= 0 || in.EMASlow <= 0 {
		return 0
	}
	var raw float64
	if in.EMAFast > in.EMASlow && in.Price > in.EMASlow {
		raw += 30
	}
	if math.Abs(in.Price-in.EMASlow)/in.EMASlow < maxEMADistance {
		raw += 20
	}
	if pct := in.ATR / in.Price; pct >= minATRPct && pct <= maxATRPct {
		raw += 20
	}
	if in.RSI >= minRSI && in.RSI <= maxRSI {
		raw += 10
	}
	return raw * 100 / trendRawMax
}

// GridState is the observable state of the grid engine.
type GridState struct {
	Center      schema.Price
	StepPct     float64
	Levels      int
	TrendScore  float64
	Established bool
	CoreTarget  schema.Quantity
	SlowEMA     float64
	Rebuilds    int
}

// BuyLevel returns the price of buy level i (1-based).
func (g GridState) BuyLevel(i int) schema.Price {
	return g.Center * schema.Price(1-g.StepPct*float64(i))
}

// SellLevel returns the price of sell level i (1-based).
func (g GridState) SellLevel(i int) schema.Price {
	return g.Center * schema.Price(1+g.StepPct*float64(i))
}

// TrendGrid holds a core long position while the trend is established and
// trades a grid around the slow EMA. It is long-only.
type TrendGrid struct {
	base
	cfg  TrendGridConfig
	fast *indicator.EMA
	slow *indicator.EMA
	atr  *indicator.ATR
	rsi  *indicator.RSI

	samples   int
	warmup    int
	grid      GridState
	lastTrade int64
	lastLevel int
}

var _ Strategy = (*TrendGrid)(nil)
var _ Rejecter = (*TrendGrid)(nil)

// NewTrendGrid creates the strategy. The exit engine measures P&L against the
// cost-basis average.
func NewTrendGrid(cfg TrendGridConfig, ledger state.Reader) *TrendGrid {
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &TrendGrid{
		base:   newBase(schema.StrategyTrendGrid, ledger, cfg.Exit, averageCost),
		cfg:    cfg,
		fast:   indicator.NewEMA(cfg.EMAFastWindow),
		slow:   indicator.NewEMA(cfg.EMASlowWindow),
		atr:    indicator.NewATR(cfg.ATRPeriod),
		rsi:    indicator.NewRSI(cfg.RSIPeriod),
		warmup: max(cfg.EMASlowWindow, cfg.RSIPeriod, cfg.ATRPeriod+1) + 2,
		grid: GridState{
			StepPct:    cfg.GridStepPct / 100,
			Levels:     cfg.GridLevels,
			CoreTarget: min(cfg.CorePos, cfg.MaxPos),
		},
	}
}

// Grid returns the current grid state.
func (s *TrendGrid) Grid() GridState {
	return s.grid
}

func (s *TrendGrid) OnPriceUpdate(quote schema.Quote) {
	price := quote.Reference()
	if price <= 0 {
		return
	}
	s.quote = quote
	p := float64(price)
	s.fast.Update(p)
	s.slow.Update(p)
	s.atr.Update(p, p, p)
	s.rsi.Update(p)
	s.samples++
	if s.samples < s.warmup {
		return
	}

	s.grid.SlowEMA = s.slow.Value()
	s.grid.TrendScore = TrendScore(TrendInputs{
		Price:   p,
		EMAFast: s.fast.Value(),
		EMASlow: s.grid.SlowEMA,
		ATR:     s.atr.Value(),
		RSI:     s.rsi.Value(),
	})
	established := s.grid.TrendScore >= TrendEstablishedScore
	if established != s.grid.Established {
		logs.Infof("[%s] trend established: %t, score: %.1f", s.id, established, s.grid.TrendScore)
	}
	s.grid.Established = established

	if s.checkExit(quote) {
		return
	}
	if !established {
		s.cancelGrid()
		return
	}
	s.updateGrid(price, s.grid.SlowEMA)

	pos, ok := s.position()
	if !ok || s.busy() {
		return
	}
	if s.checkCore(pos.SignedPosition, quote.Ts) {
		return
	}
	if side, level, ok := s.gridSignal(price, pos.SignedPosition, averageCost(pos)); ok {
		s.lastLevel = level
		s.emit(side, s.cfg.GridVolume, price, fmt.Sprintf("grid_%s_L%d", side, abs(level)))
	}
}

func (s *TrendGrid) OnFill(fill schema.Fill) {
	s.lastTrade = s.quote.Ts
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Infof("[%s] fill applied, side: %s, qty: %d, price: %v, position: %d, avg cost: %s",
		s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition, pos.Cost.AverageCost().StringFixed(4))
}

// cancelGrid drops the grid levels. The core position is held.
func (s *TrendGrid) cancelGrid() {
	if s.grid.Center == 0 {
		return
	}
	logs.Infof("[%s] trend lost, grid canceled, center: %v", s.id, s.grid.Center)
	s.grid.Center = 0
	s.lastLevel = 0
}

func (s *TrendGrid) checkCore(pos schema.Quantity, now int64) bool {
	target := s.grid.CoreTarget
	if pos >= target {
		return false
	}
	if s.lastTrade != 0 && time.Duration(now-s.lastTrade) < s.cfg.CoreCooldown {
		return false
	}
	s.emit(schema.OrderSideBuy, target-pos, s.quote.Reference(), "core_position")
	return true
}

// updateGrid initializes or rebuilds the grid center. The center always
// comes from the slow EMA, never from the traded price.
func (s *TrendGrid) updateGrid(price schema.Price, slowEMA float64) {
	if slowEMA <= 0 || s.grid.StepPct <= 0 {
		return
	}
	center := schema.Price(slowEMA)
	if s.grid.Center <= 0 {
		s.grid.Center = center
		s.lastLevel = 0
		logs.Infof("[%s] grid initialized, center: %.4f", s.id, slowEMA)
		return
	}
	deviation := math.Abs(float64(price-s.grid.Center)) / float64(s.grid.Center)
	if deviation < 2*s.grid.StepPct {
		return
	}
	logs.Infof("[%s] grid rebuilt, old center: %.4f, new center: %.4f, deviation: %.2f%%",
		s.id, float64(s.grid.Center), slowEMA, deviation*100)
	s.grid.Center = center
	s.grid.Rebuilds++
	s.lastLevel = 0
}

// minSellPrice is the lowest grid sell that covers the round-trip fee
// times the profit multiple.
func (s *TrendGrid) minSellPrice(avgCost schema.Price) schema.Price {
	if avgCost <= 0 || s.cfg.GridVolume <= 0 {
		return 0
	}
	roundTrip := s.cfg.FeePerSide * 2
	return avgCost + schema.Price(roundTrip*s.cfg.MinProfitMultiple/float64(s.cfg.GridVolume))
}

// gridSignal picks the nearest grid level to price. Buy levels are negative,
// sell levels positive.
func (s *TrendGrid) gridSignal(price schema.Price, pos schema.Quantity, avgCost schema.Price) (schema.OrderSide, int, bool) {
	g := s.grid
	if g.Center <= 0 || g.Levels <= 0 || s.cfg.GridVolume <= 0 {
		return schema.OrderSideUnknown, 0, false
	}
	step := float64(g.Center) * g.StepPct

	if price < g.Center {
		if s.cfg.MaxPos-pos < s.cfg.GridVolume {
			return schema.OrderSideUnknown, 0, false
		}
		i := int(float64(g.Center-price)/step) + 1
		if i > g.Levels || -i == s.lastLevel {
			return schema.OrderSideUnknown, 0, false
		}
		if !near(price, g.BuyLevel(i), g.StepPct) {
			return schema.OrderSideUnknown, 0, false
		}
		return schema.OrderSideBuy, -i, true
	}

	if pos < s.cfg.GridVolume {
		return schema.OrderSideUnknown, 0, false
	}
	i := int(float64(price-g.Center)/step) + 1
	if i > g.Levels || i == s.lastLevel {
		return schema.OrderSideUnknown, 0, false
	}
	level := g.SellLevel(i)
	if floor := s.minSellPrice(avgCost); floor > 0 && (level < floor || price < floor) {
		return schema.OrderSideUnknown, 0, false
	}
	if !near(price, level, g.StepPct) {
		return schema.OrderSideUnknown, 0, false
	}
	return schema.OrderSideSell, i, true
}

func near(price, level schema.Price, stepPct float64) bool {
	return math.Abs(float64(price-level))/float64(price) <= stepPct*0.5
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
