package schema

import "strings"

// StrategyID identifies a strategy variant. The set is closed.
type StrategyID uint8

const (
	StrategyUnknown StrategyID = iota
	StrategyMarketMaking
	StrategyLiquidityTaker
	StrategyOrderFlow
	StrategyTrendGrid
	StrategyMicroGrid
	StrategyShortMomentum
	StrategyTapeReading
)

var strategyNames = [...]string{
	StrategyUnknown:        "unknown",
	StrategyMarketMaking:   "market_making",
	StrategyLiquidityTaker: "liquidity_taker",
	StrategyOrderFlow:      "order_flow",
	StrategyTrendGrid:      "trend_grid",
	StrategyMicroGrid:      "micro_grid",
	StrategyShortMomentum:  "short_momentum",
	StrategyTapeReading:    "tape_reading",
}

// AllStrategies lists every known strategy in a stable order.
func AllStrategies() []StrategyID {
	return []StrategyID{
		StrategyMarketMaking,
		StrategyLiquidityTaker,
		StrategyOrderFlow,
		StrategyTrendGrid,
		StrategyMicroGrid,
		StrategyShortMomentum,
		StrategyTapeReading,
	}
}

func (id StrategyID) String() string {
	if int(id) < len(strategyNames) {
		return strategyNames[id]
	}
	return strategyNames[StrategyUnknown]
}

// Valid reports whether id names a known variant.
func (id StrategyID) Valid() bool {
	return id > StrategyUnknown && int(id) < len(strategyNames)
}

// ParseStrategyID resolves a config name such as "trend_grid".
func ParseStrategyID(name string) (StrategyID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := 1; i < len(strategyNames); i++ {
		if strategyNames[i] == name {
			return StrategyID(i), true
		}
	}
	return StrategyUnknown, false
}

// MarshalText encodes the strategy as its config name.
func (id StrategyID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a config name. Unknown names decode to StrategyUnknown
// and are rejected by config validation.
func (id *StrategyID) UnmarshalText(text []byte) error {
	parsed, _ := ParseStrategyID(string(text))
	*id = parsed
	return nil
}
