package obs

import (
	"sync/atomic"
	"time"

	"hftcore/internal/schema"
)

const maxRiskReason = int(schema.RiskReasonMaxQty)

// Metrics collects lightweight counters and latency stats. Every method is
// safe on a nil receiver.
type Metrics struct {
	quotes          uint64
	signals         uint64
	allowed         uint64
	denyCounts      [maxRiskReason + 1]uint64
	fills           uint64
	integrityErrors uint64
	submitFailures  uint64
	expired         uint64
	exits           uint64
	transitions     uint64
	queueDrops      uint64

	quoteLatency    LatencyStats
	riskEvalLatency LatencyStats
	submitLatency   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Quotes          uint64
	Signals         uint64
	Allowed         uint64
	Denied          map[schema.RiskReason]uint64
	Fills           uint64
	IntegrityErrors uint64
	SubmitFailures  uint64
	Expired         uint64
	Exits           uint64
	Transitions     uint64
	QueueDrops      uint64
	QuoteLatency    LatencySnapshot
	RiskEvalLatency LatencySnapshot
	SubmitLatency   LatencySnapshot
}

// DeniedTotal sums denials over every reason.
func (s Snapshot) DeniedTotal() uint64 {
	var n uint64
	for _, v := range s.Denied {
		n += v
	}
	return n
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveQuote counts a quote and the time spent handling it.
func (m *Metrics) ObserveQuote(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.quotes, 1)
	m.quoteLatency.Observe(d)
}

// IncSignal counts a signal handed to admission.
func (m *Metrics) IncSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signals, 1)
}

// ObserveDecision counts an admission outcome.
func (m *Metrics) ObserveDecision(decision schema.RiskDecision) {
	if m == nil {
		return
	}
	if decision.Allowed() {
		atomic.AddUint64(&m.allowed, 1)
		return
	}
	idx := int(decision.Reason)
	if idx >= 0 && idx < len(m.denyCounts) {
		atomic.AddUint64(&m.denyCounts[idx], 1)
	}
}

// IncFill counts a routed fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// IncIntegrityError counts a boundary contract violation.
func (m *Metrics) IncIntegrityError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.integrityErrors, 1)
}

// IncSubmitFailure counts an allowed signal the gateway did not accept.
func (m *Metrics) IncSubmitFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitFailures, 1)
}

// IncExpired counts an open order given up after the order timeout.
func (m *Metrics) IncExpired() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.expired, 1)
}

// IncExit counts a close signal produced by an exit engine.
func (m *Metrics) IncExit() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.exits, 1)
}

// IncTransition counts a governor state change.
func (m *Metrics) IncTransition() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.transitions, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveSubmit measures gateway submission latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	denied := make(map[schema.RiskReason]uint64)
	for i := range m.denyCounts {
		if v := atomic.LoadUint64(&m.denyCounts[i]); v > 0 {
			denied[schema.RiskReason(i)] = v
		}
	}
	return Snapshot{
		Quotes:          atomic.LoadUint64(&m.quotes),
		Signals:         atomic.LoadUint64(&m.signals),
		Allowed:         atomic.LoadUint64(&m.allowed),
		Denied:          denied,
		Fills:           atomic.LoadUint64(&m.fills),
		IntegrityErrors: atomic.LoadUint64(&m.integrityErrors),
		SubmitFailures:  atomic.LoadUint64(&m.submitFailures),
		Expired:         atomic.LoadUint64(&m.expired),
		Exits:           atomic.LoadUint64(&m.exits),
		Transitions:     atomic.LoadUint64(&m.transitions),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		QuoteLatency:    m.quoteLatency.Snapshot(),
		RiskEvalLatency: m.riskEvalLatency.Snapshot(),
		SubmitLatency:   m.submitLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
