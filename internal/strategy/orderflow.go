package strategy

import (
	"math"
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/exit"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

// OrderFlowConfig controls entries on queue pressure.
type OrderFlowConfig struct {
	TickSize          float64         `json:"tickSize" yaml:"tickSize"`
	LotSize           schema.Quantity `json:"lotSize" yaml:"lotSize"`
	MaxPosition       schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	Window            time.Duration   `json:"window" yaml:"window"`
	MinSamples        int             `json:"minSamples" yaml:"minSamples"`
	BuyPressure       float64         `json:"buyPressure" yaml:"buyPressure"`
	SellPressure      float64         `json:"sellPressure" yaml:"sellPressure"`
	MinMomentumTicks  int             `json:"minMomentumTicks" yaml:"minMomentumTicks"`
	MinVolumeIncrease schema.Quantity `json:"minVolumeIncrease" yaml:"minVolumeIncrease"`
	// FullConfidenceVolume is the volume increase that gives confidence 1.
	FullConfidenceVolume schema.Quantity `json:"fullConfidenceVolume" yaml:"fullConfidenceVolume"`
	MinConfidence        float64         `json:"minConfidence" yaml:"minConfidence"`
	ImbalanceLong        float64         `json:"imbalanceLong" yaml:"imbalanceLong"`
	ImbalanceShort       float64         `json:"imbalanceShort" yaml:"imbalanceShort"`
	Cooldown             time.Duration   `json:"cooldown" yaml:"cooldown"`
	Exit                 exit.Config     `json:"exit" yaml:"exit"`
}

// DefaultOrderFlowConfig returns the production defaults.
func DefaultOrderFlowConfig() OrderFlowConfig {
	cfg := OrderFlowConfig{
		TickSize:             0.1,
		LotSize:              100,
		MaxPosition:          100,
		Window:               3 * time.Second,
		MinSamples:           5,
		BuyPressure:          0.6,
		SellPressure:         -0.6,
		MinMomentumTicks:     2,
		MinVolumeIncrease:    1000,
		FullConfidenceVolume: 10000,
		MinConfidence:        0.6,
		ImbalanceLong:        0.3,
		ImbalanceShort:       -0.3,
		Cooldown:             time.Second,
		Exit:                 hftExit(0.1),
	}
	cfg.Exit.TakeProfitTicks = 5
	cfg.Exit.StopLossTicks = 10
	return cfg
}

// Flow summarizes the quotes in the window.
type Flow struct {
	Pressure       float64
	QueuePressure  float64
	MomentumTicks  int
	VolumeIncrease schema.Quantity
	Confidence     float64
}

// OrderFlow trades in the direction of queue pressure confirmed by momentum
// and traded volume. It only opens from flat.
type OrderFlow struct {
	base
	cfg        OrderFlowConfig
	window     *window
	lastSignal int64
}

var _ Strategy = (*OrderFlow)(nil)

// NewOrderFlow creates the strategy.
func NewOrderFlow(cfg OrderFlowConfig, ledger state.Reader) *OrderFlow {
	if cfg.Exit.TickSize <= 0 {
		cfg.Exit.TickSize = cfg.TickSize
	}
	return &OrderFlow{
		base:   newBase(schema.StrategyOrderFlow, ledger, cfg.Exit, entryPrice),
		cfg:    cfg,
		window: newWindow(cfg.Window),
	}
}

// Flow computes pressure over the current window.
func (s *OrderFlow) Flow() Flow {
	if s.window.len() < max(s.cfg.MinSamples, 2) {
		return Flow{}
	}
	first, last := s.window.first(), s.window.last()

	bidDelta := float64(last.BidSize - first.BidSize)
	askDelta := float64(last.AskSize - first.AskSize)
	var queue float64
	if d := math.Abs(bidDelta) + math.Abs(askDelta); d > 0 {
		queue = (bidDelta - askDelta) / d
	}
	momentum := s.window.momentumTicks(s.cfg.TickSize)
	var direction float64
	switch {
	case momentum > 0:
		direction = 1
	case momentum < 0:
		direction = -1
	}
	volume := last.Volume - first.Volume
	confidence := 0.0
	if s.cfg.FullConfidenceVolume > 0 {
		confidence = math.Min(1, float64(volume)/float64(s.cfg.FullConfidenceVolume))
	}
	return Flow{
		Pressure:       queue*0.6 + direction*0.4,
		QueuePressure:  queue,
		MomentumTicks:  momentum,
		VolumeIncrease: volume,
		Confidence:     confidence,
	}
}

func (s *OrderFlow) OnPriceUpdate(quote schema.Quote) {
	if quote.Reference() <= 0 {
		return
	}
	s.quote = quote
	s.window.push(quote)

	if s.checkExit(quote) || s.busy() {
		return
	}
	if !cooledDown(s.lastSignal, quote.Ts, s.cfg.Cooldown) || quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return
	}
	pos, ok := s.position()
	if !ok || pos.SignedPosition != 0 {
		return
	}

	flow := s.Flow()
	if flow.VolumeIncrease < s.cfg.MinVolumeIncrease || flow.Confidence < s.cfg.MinConfidence {
		return
	}
	imb := imbalance(quote)
	qty := min(s.cfg.LotSize, s.cfg.MaxPosition)
	tick := schema.Price(s.cfg.TickSize)

	switch {
	case flow.Pressure >= s.cfg.BuyPressure && flow.MomentumTicks >= s.cfg.MinMomentumTicks && imb >= s.cfg.ImbalanceLong:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideBuy, qty, quote.AskPrice+tick, "of_long")
	case flow.Pressure <= s.cfg.SellPressure && flow.MomentumTicks <= -s.cfg.MinMomentumTicks && imb <= s.cfg.ImbalanceShort:
		s.lastSignal = quote.Ts
		s.emit(schema.OrderSideSell, qty, quote.BidPrice-tick, "of_short")
	}
}

func (s *OrderFlow) OnFill(fill schema.Fill) {
	pos, ok := s.settle(fill)
	if !ok {
		return
	}
	logs.Debugf("[%s] fill, side: %s, qty: %d, price: %v, position: %d", s.id, fill.Side, fill.Qty, fill.Price, pos.SignedPosition)
}
