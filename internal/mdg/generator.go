package mdg

import (
	"math"
	"math/rand/v2"
	"time"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// GeneratorConfig shapes the synthetic market. Price moves are in ticks.
type GeneratorConfig struct {
	StartPrice  float64         `json:"startPrice" yaml:"startPrice"`
	SpreadTicks int             `json:"spreadTicks" yaml:"spreadTicks"`
	VolTicks    float64         `json:"volTicks" yaml:"volTicks"`
	DriftTicks  float64         `json:"driftTicks" yaml:"driftTicks"`
	Reversion   float64         `json:"reversion" yaml:"reversion"`
	BaseSize    schema.Quantity `json:"baseSize" yaml:"baseSize"`
	Interval    time.Duration   `json:"interval" yaml:"interval"`
	Seed        uint64          `json:"seed" yaml:"seed"`
}

// DefaultGeneratorConfig returns a mean-reverting market around 100.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		StartPrice:  100,
		SpreadTicks: 1,
		VolTicks:    3,
		Reversion:   0.01,
		BaseSize:    50,
		Interval:    200 * time.Millisecond,
		Seed:        1,
	}
}

// Generator creates synthetic ticks for one symbol. Book sizes lean toward
// the side the price is moving to, so imbalance carries some signal.
type Generator struct {
	symbol schema.Symbol
	cfg    GeneratorConfig
	rng    *rand.Rand
	mid    float64
	ts     int64
}

// NewGenerator creates a generator whose first tick is stamped at start.
func NewGenerator(symbol schema.Symbol, cfg GeneratorConfig, start time.Time) (*Generator, error) {
	if symbol.TickSize <= 0 {
		return nil, errs.Wrapf(exception.ErrInvalidConfig, "symbol %s has no tick size", symbol.Name)
	}
	if cfg.StartPrice <= 0 || cfg.VolTicks < 0 || cfg.Reversion < 0 || cfg.Reversion > 1 {
		return nil, errs.Wrap(exception.ErrInvalidConfig, "generator needs startPrice > 0, volTicks >= 0, reversion within [0, 1]")
	}
	if cfg.SpreadTicks <= 0 {
		cfg.SpreadTicks = 1
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Generator{
		symbol: symbol,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		mid:    cfg.StartPrice,
		ts:     start.UnixNano(),
	}, nil
}

// Next creates the next raw tick in sequence.
func (g *Generator) Next() RawTick {
	tick := g.symbol.TickSize
	step := g.cfg.DriftTicks + g.cfg.VolTicks*g.rng.NormFloat64() - g.cfg.Reversion*(g.mid-g.cfg.StartPrice)/tick
	g.mid = math.Max(g.mid+step*tick, tick*float64(g.cfg.SpreadTicks+1))

	bid := math.Floor((g.mid-float64(g.cfg.SpreadTicks)*tick/2)/tick) * tick
	ask := bid + float64(g.cfg.SpreadTicks)*tick
	base := float64(g.cfg.BaseSize)
	lean := math.Tanh(step / math.Max(g.cfg.VolTicks, 1))
	bidSize := int64(base * (1 + lean) * (0.5 + g.rng.Float64()))
	askSize := int64(base * (1 - lean) * (0.5 + g.rng.Float64()))
	last := ask
	if step < 0 {
		last = bid
	}

	raw := RawTick{
		Symbol:    g.symbol.Name,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		BidSize:   max(bidSize, 1),
		AskSize:   max(askSize, 1),
		TradeSize: 1 + g.rng.Int64N(int64(g.cfg.BaseSize)),
		TsEvent:   g.ts,
	}
	g.ts += int64(g.cfg.Interval)
	return raw
}
