package ops

import (
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/internal/strategy"
)

// NewLedger creates a ledger with every enabled strategy registered.
func (l Loaded) NewLedger() (*state.Ledger, error) {
	ledger := state.NewLedger(l.Ledger)
	for _, s := range l.Strategies {
		if err := ledger.Register(s.ID, s.MaxAbsPosition); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// BuildStrategies creates the enabled strategies in a stable order.
func (l Loaded) BuildStrategies(ledger state.Reader) []strategy.Strategy {
	out := make([]strategy.Strategy, 0, len(l.Strategies))
	for _, s := range l.Strategies {
		switch s.ID {
		case schema.StrategyMarketMaking:
			out = append(out, strategy.NewMarketMaking(l.MarketMaking, ledger))
		case schema.StrategyLiquidityTaker:
			out = append(out, strategy.NewLiquidityTaker(l.LiquidityTaker, ledger))
		case schema.StrategyOrderFlow:
			out = append(out, strategy.NewOrderFlow(l.OrderFlow, ledger))
		case schema.StrategyTrendGrid:
			out = append(out, strategy.NewTrendGrid(l.TrendGrid, ledger))
		case schema.StrategyMicroGrid:
			out = append(out, strategy.NewMicroGrid(l.MicroGrid, ledger))
		case schema.StrategyShortMomentum:
			out = append(out, strategy.NewShortMomentum(l.ShortMomentum, ledger))
		case schema.StrategyTapeReading:
			out = append(out, strategy.NewTapeReading(l.TapeReading, ledger))
		}
	}
	return out
}
