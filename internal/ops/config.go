package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hftcore/internal/audit"
	"hftcore/internal/chaos"
	errs "hftcore/internal/errors"
	"hftcore/internal/og"
	"hftcore/internal/risk"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/internal/strategy"
	"hftcore/pkg/exception"
)

// FileConfig mirrors the config file layout. Load decodes the file on top of
// DefaultFileConfig, so anything the file leaves out keeps its default.
// Durations are nanoseconds in JSON and "5s" style strings in YAML.
type FileConfig struct {
	Instrument InstrumentConfig   `json:"instrument" yaml:"instrument"`
	Ledger     LedgerConfig       `json:"ledger" yaml:"ledger"`
	Risk       risk.Config        `json:"risk" yaml:"risk"`
	Orders     OrdersConfig       `json:"orders" yaml:"orders"`
	Governor   GovernorFileConfig `json:"governor" yaml:"governor"`
	Strategies StrategiesConfig   `json:"strategies" yaml:"strategies"`
	Paper      PaperFileConfig    `json:"paper" yaml:"paper"`
	Chaos      chaos.Config       `json:"chaos" yaml:"chaos"`
	Audit      AuditConfig        `json:"audit" yaml:"audit"`
	Metrics    MetricsConfig      `json:"metrics" yaml:"metrics"`
	Bus        BusConfig          `json:"bus" yaml:"bus"`
}

// InstrumentConfig names the single traded instrument.
type InstrumentConfig struct {
	Venue    string          `json:"venue" yaml:"venue"`
	Symbol   string          `json:"symbol" yaml:"symbol"`
	TickSize float64         `json:"tickSize" yaml:"tickSize"`
	LotSize  schema.Quantity `json:"lotSize" yaml:"lotSize"`
}

// LedgerConfig holds the instrument-wide limits.
type LedgerConfig struct {
	MaxAbsTotalPosition schema.Quantity `json:"maxAbsTotalPosition" yaml:"maxAbsTotalPosition"`
	DailyLossLimit      float64         `json:"dailyLossLimit" yaml:"dailyLossLimit"`
}

// OrdersConfig controls open order tracking. Timeout is measured in quote
// time; zero keeps orders open until they fill.
type OrdersConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// GovernorFileConfig is the file form of risk.GovernorConfig. Weights are
// keyed by strategy name.
type GovernorFileConfig struct {
	StrategyLossLimit   float64            `json:"strategyLossLimit" yaml:"strategyLossLimit"`
	ProfitTarget        float64            `json:"profitTarget" yaml:"profitTarget"`
	PositionReduceRatio float64            `json:"positionReduceRatio" yaml:"positionReduceRatio"`
	MinPosition         schema.Quantity    `json:"minPosition" yaml:"minPosition"`
	PerformanceWindow   int                `json:"performanceWindow" yaml:"performanceWindow"`
	RebalanceInterval   int                `json:"rebalanceInterval" yaml:"rebalanceInterval"`
	MinWeight           float64            `json:"minWeight" yaml:"minWeight"`
	MaxWeight           float64            `json:"maxWeight" yaml:"maxWeight"`
	Weights             map[string]float64 `json:"weights" yaml:"weights"`
}

// StrategySection wraps one strategy's parameters with its ledger settings.
type StrategySection[C any] struct {
	Enabled        *bool           `json:"enabled" yaml:"enabled"`
	MaxAbsPosition schema.Quantity `json:"maxAbsPosition" yaml:"maxAbsPosition"`
	Params         C               `json:"params" yaml:"params"`
}

func (s StrategySection[C]) enabled(def bool) bool {
	if s.Enabled == nil {
		return def
	}
	return *s.Enabled
}

// StrategiesConfig lists every strategy section.
type StrategiesConfig struct {
	MarketMaking   StrategySection[strategy.MarketMakingConfig]   `json:"market_making" yaml:"market_making"`
	LiquidityTaker StrategySection[strategy.LiquidityTakerConfig] `json:"liquidity_taker" yaml:"liquidity_taker"`
	OrderFlow      StrategySection[strategy.OrderFlowConfig]      `json:"order_flow" yaml:"order_flow"`
	TrendGrid      StrategySection[strategy.TrendGridConfig]      `json:"trend_grid" yaml:"trend_grid"`
	MicroGrid      StrategySection[strategy.MicroGridConfig]      `json:"micro_grid" yaml:"micro_grid"`
	ShortMomentum  StrategySection[strategy.ShortMomentumConfig]  `json:"short_momentum" yaml:"short_momentum"`
	TapeReading    StrategySection[strategy.TapeReadingConfig]    `json:"tape_reading" yaml:"tape_reading"`
}

// PaperFileConfig is the file form of og.PaperConfig.
type PaperFileConfig struct {
	Session       string  `json:"session" yaml:"session"`
	SlippageTicks float64 `json:"slippageTicks" yaml:"slippageTicks"`
	FeePerFill    float64 `json:"feePerFill" yaml:"feePerFill"`
	PartialFills  int     `json:"partialFills" yaml:"partialFills"`
	Seed          int64   `json:"seed" yaml:"seed"`
}

// AuditConfig selects the audit sink. Without a database, records stay in
// memory.
type AuditConfig struct {
	Postgres audit.PostgresOption `json:"postgres" yaml:"postgres"`
	Buffer   int                  `json:"buffer" yaml:"buffer"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// BusConfig sizes the event queue.
type BusConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// DefaultFileConfig returns the production defaults.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Instrument: InstrumentConfig{Venue: "paper", Symbol: "TXF", TickSize: 0.01, LotSize: 1},
		Ledger:     LedgerConfig{MaxAbsTotalPosition: 400, DailyLossLimit: 500_000},
		Governor: GovernorFileConfig{
			StrategyLossLimit:   100_000,
			ProfitTarget:        200_000,
			PositionReduceRatio: 0.5,
			MinPosition:         100,
			PerformanceWindow:   100,
			RebalanceInterval:   50,
			MinWeight:           0.1,
			MaxWeight:           0.6,
			Weights: map[string]float64{
				schema.StrategyMarketMaking.String():   0.3,
				schema.StrategyLiquidityTaker.String(): 0.4,
				schema.StrategyOrderFlow.String():      0.3,
			},
		},
		Strategies: StrategiesConfig{
			MarketMaking:   StrategySection[strategy.MarketMakingConfig]{Enabled: boolPtr(true), MaxAbsPosition: 120, Params: strategy.DefaultMarketMakingConfig()},
			LiquidityTaker: StrategySection[strategy.LiquidityTakerConfig]{Enabled: boolPtr(true), MaxAbsPosition: 160, Params: strategy.DefaultLiquidityTakerConfig()},
			OrderFlow:      StrategySection[strategy.OrderFlowConfig]{Enabled: boolPtr(true), MaxAbsPosition: 120, Params: strategy.DefaultOrderFlowConfig()},
			TrendGrid:      StrategySection[strategy.TrendGridConfig]{Enabled: boolPtr(false), MaxAbsPosition: 2000, Params: strategy.DefaultTrendGridConfig()},
		},
		Orders: OrdersConfig{Timeout: 30 * time.Second},
		Paper:  PaperFileConfig{Session: "PAPER", PartialFills: 1},
		Chaos:  chaos.Config{ReorderWindow: 1},
		Audit:  AuditConfig{Buffer: 1024},
		Bus:    BusConfig{Capacity: 4096},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// StrategySpec is one enabled strategy with its ledger cap.
type StrategySpec struct {
	ID             schema.StrategyID
	MaxAbsPosition schema.Quantity
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry     *schema.Registry
	Symbol       schema.Symbol
	Ledger       state.Config
	Risk         risk.Config
	OrderTimeout time.Duration
	Governor     risk.GovernorConfig
	Strategies   []StrategySpec

	MarketMaking   strategy.MarketMakingConfig
	LiquidityTaker strategy.LiquidityTakerConfig
	OrderFlow      strategy.OrderFlowConfig
	TrendGrid      strategy.TrendGridConfig
	MicroGrid      strategy.MicroGridConfig
	ShortMomentum  strategy.ShortMomentumConfig
	TapeReading    strategy.TapeReadingConfig

	Paper         og.PaperConfig
	Chaos         chaos.Config
	Audit         AuditConfig
	MetricsListen string
	QueueCapacity int
}

// Load reads a .json, .yaml or .yml file. An empty path yields the defaults.
func Load(path string) (Loaded, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errs.Wrap(err, "read config")
		}
		if err := Decode(path, data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return Resolve(cfg)
}

// Decode picks the decoder from the file extension.
func Decode(path string, data []byte, cfg *FileConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := sonic.Unmarshal(data, cfg); err != nil {
			return errs.Wrap(err, "decode json config")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errs.Wrap(err, "decode yaml config")
		}
	default:
		return errs.Wrapf(exception.ErrInvalidConfig, "unsupported config extension %q", filepath.Ext(path))
	}
	return nil
}

// Resolve validates cfg and converts it into runtime configs.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, symbol, err := buildRegistry(cfg.Instrument)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Ledger.MaxAbsTotalPosition <= 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "ledger.maxAbsTotalPosition must be > 0")
	}
	if cfg.Ledger.DailyLossLimit < 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "ledger.dailyLossLimit must be >= 0")
	}
	if cfg.Risk.MaxOrderQty < 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "risk.maxOrderQty must be >= 0")
	}
	if cfg.Orders.Timeout < 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "orders.timeout must be >= 0")
	}
	governor, err := resolveGovernor(cfg.Governor, cfg.Ledger.MaxAbsTotalPosition)
	if err != nil {
		return Loaded{}, err
	}
	if err := cfg.Chaos.Validate(); err != nil {
		return Loaded{}, err
	}
	if cfg.Paper.PartialFills < 0 || cfg.Paper.SlippageTicks < 0 || cfg.Paper.FeePerFill < 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "paper settings must be >= 0")
	}

	out := Loaded{
		Registry: registry,
		Symbol:   symbol,
		Ledger: state.Config{
			MaxAbsTotalPosition: cfg.Ledger.MaxAbsTotalPosition,
			DailyLossLimit:      decimal.NewFromFloat(cfg.Ledger.DailyLossLimit),
		},
		Risk:           cfg.Risk,
		OrderTimeout:   cfg.Orders.Timeout,
		Governor:       governor,
		MarketMaking:   cfg.Strategies.MarketMaking.Params,
		LiquidityTaker: cfg.Strategies.LiquidityTaker.Params,
		OrderFlow:      cfg.Strategies.OrderFlow.Params,
		TrendGrid:      cfg.Strategies.TrendGrid.Params,
		MicroGrid:      cfg.Strategies.MicroGrid.Params,
		ShortMomentum:  cfg.Strategies.ShortMomentum.Params,
		TapeReading:    cfg.Strategies.TapeReading.Params,
		Paper: og.PaperConfig{
			Session:       cfg.Paper.Session,
			TickSize:      symbol.TickSize,
			SlippageTicks: cfg.Paper.SlippageTicks,
			FeePerFill:    decimal.NewFromFloat(cfg.Paper.FeePerFill),
			PartialFills:  cfg.Paper.PartialFills,
			Seed:          cfg.Paper.Seed,
		},
		Chaos:         cfg.Chaos,
		Audit:         cfg.Audit,
		MetricsListen: cfg.Metrics.Listen,
		QueueCapacity: max(cfg.Bus.Capacity, 1),
	}

	sections := []struct {
		id       schema.StrategyID
		enabled  bool
		max      schema.Quantity
		validate func() error
	}{
		{schema.StrategyMarketMaking, cfg.Strategies.MarketMaking.enabled(true), cfg.Strategies.MarketMaking.MaxAbsPosition, func() error {
			return validateHFT(out.MarketMaking.TickSize, out.MarketMaking.LotSize, out.MarketMaking.Exit)
		}},
		{schema.StrategyLiquidityTaker, cfg.Strategies.LiquidityTaker.enabled(true), cfg.Strategies.LiquidityTaker.MaxAbsPosition, func() error {
			return validateHFT(out.LiquidityTaker.TickSize, out.LiquidityTaker.OrderVolume, out.LiquidityTaker.Exit)
		}},
		{schema.StrategyOrderFlow, cfg.Strategies.OrderFlow.enabled(true), cfg.Strategies.OrderFlow.MaxAbsPosition, func() error {
			return validateHFT(out.OrderFlow.TickSize, out.OrderFlow.LotSize, out.OrderFlow.Exit)
		}},
		{schema.StrategyTrendGrid, cfg.Strategies.TrendGrid.enabled(false), cfg.Strategies.TrendGrid.MaxAbsPosition, out.TrendGrid.Validate},
		{schema.StrategyMicroGrid, cfg.Strategies.MicroGrid.enabled(false), cfg.Strategies.MicroGrid.MaxAbsPosition, out.MicroGrid.Validate},
		{schema.StrategyShortMomentum, cfg.Strategies.ShortMomentum.enabled(false), cfg.Strategies.ShortMomentum.MaxAbsPosition, out.ShortMomentum.Validate},
		{schema.StrategyTapeReading, cfg.Strategies.TapeReading.enabled(false), cfg.Strategies.TapeReading.MaxAbsPosition, out.TapeReading.Validate},
	}
	for _, s := range sections {
		if !s.enabled {
			continue
		}
		if s.max <= 0 {
			return Loaded{}, errs.Wrapf(exception.ErrInvalidConfig, "%s: maxAbsPosition must be > 0", s.id)
		}
		if err := s.validate(); err != nil {
			return Loaded{}, errs.Wrapf(err, "%s", s.id)
		}
		out.Strategies = append(out.Strategies, StrategySpec{ID: s.id, MaxAbsPosition: s.max})
	}
	if len(out.Strategies) == 0 {
		return Loaded{}, errs.Wrap(exception.ErrInvalidConfig, "no strategy enabled")
	}
	return out, nil
}

func validateHFT(tick float64, lot schema.Quantity, exitCfg interface{ Validate() error }) error {
	if tick <= 0 || lot <= 0 {
		return errs.Wrapf(exception.ErrInvalidConfig, "tick %.4f lot %d", tick, lot)
	}
	return exitCfg.Validate()
}

func resolveGovernor(cfg GovernorFileConfig, maxTotal schema.Quantity) (risk.GovernorConfig, error) {
	if cfg.StrategyLossLimit < 0 || cfg.ProfitTarget < 0 {
		return risk.GovernorConfig{}, errs.Wrap(exception.ErrInvalidConfig, "governor limits must be >= 0")
	}
	if cfg.PositionReduceRatio < 0 || cfg.PositionReduceRatio > 1 {
		return risk.GovernorConfig{}, errs.Wrap(exception.ErrInvalidConfig, "governor.positionReduceRatio must be within [0, 1]")
	}
	weights := make(map[schema.StrategyID]float64, len(cfg.Weights))
	for name, w := range cfg.Weights {
		id, ok := schema.ParseStrategyID(name)
		if !ok {
			return risk.GovernorConfig{}, errs.Wrapf(exception.ErrInvalidConfig, "unknown strategy in governor.weights: %s", name)
		}
		if w < 0 {
			return risk.GovernorConfig{}, errs.Wrapf(exception.ErrInvalidConfig, "negative weight for %s", name)
		}
		weights[id] = w
	}
	return risk.GovernorConfig{
		MaxTotalPosition:    maxTotal,
		StrategyLossLimit:   decimal.NewFromFloat(cfg.StrategyLossLimit),
		ProfitTarget:        decimal.NewFromFloat(cfg.ProfitTarget),
		PositionReduceRatio: cfg.PositionReduceRatio,
		MinPosition:         cfg.MinPosition,
		PerformanceWindow:   cfg.PerformanceWindow,
		RebalanceInterval:   cfg.RebalanceInterval,
		MinWeight:           cfg.MinWeight,
		MaxWeight:           cfg.MaxWeight,
		Weights:             weights,
	}, nil
}

func buildRegistry(cfg InstrumentConfig) (*schema.Registry, schema.Symbol, error) {
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue(cfg.Venue)
	if err != nil {
		return nil, schema.Symbol{}, errs.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	symbolID, err := reg.AddSymbol(cfg.Symbol, venueID, cfg.TickSize, cfg.LotSize)
	if err != nil {
		return nil, schema.Symbol{}, errs.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	symbol, _ := reg.Symbol(symbolID)
	return reg, symbol, nil
}
