package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Snapshot captures the ledger at a point in time.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	LastSeq     uint64          `json:"lastSeq"`
	DailyPnL    decimal.Decimal `json:"dailyPnl"`
	MaxAbsTotal schema.Quantity `json:"maxAbsTotal"`
	Positions   []PositionEntry `json:"positions"`
}

// PositionEntry is a single strategy entry.
type PositionEntry struct {
	StrategyID  schema.StrategyID `json:"strategy"`
	Qty         schema.Quantity   `json:"qty"`
	MaxAbs      schema.Quantity   `json:"maxAbs"`
	Enabled     bool              `json:"enabled"`
	TradeCount  int               `json:"tradeCount"`
	RealizedPnL decimal.Decimal   `json:"realizedPnl"`
	EntryPrice  decimal.Decimal   `json:"entryPrice"`
	BuyNotional decimal.Decimal   `json:"buyNotional"`
	BuyVolume   schema.Quantity   `json:"buyVolume"`
}

// Snapshot builds a snapshot from current positions.
func (l *Ledger) Snapshot() Snapshot {
	return l.SnapshotWithSeq(0)
}

// SnapshotWithSeq builds a snapshot tagged with the last processed event.
func (l *Ledger) SnapshotWithSeq(lastSeq uint64) Snapshot {
	ids := l.Strategies()
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]PositionEntry, 0, len(ids))
	for _, id := range ids {
		p := l.positions[id]
		entries = append(entries, PositionEntry{
			StrategyID:  id,
			Qty:         p.SignedPosition,
			MaxAbs:      p.MaxAbsPosition,
			Enabled:     p.Enabled,
			TradeCount:  p.TradeCount,
			RealizedPnL: p.RealizedPnL,
			EntryPrice:  p.EntryPrice,
			BuyNotional: p.Cost.TotalBuyNotional,
			BuyVolume:   p.Cost.TotalBuyVolume,
		})
	}
	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		LastSeq:     lastSeq,
		DailyPnL:    l.dailyPnL,
		MaxAbsTotal: l.cfg.MaxAbsTotalPosition,
		Positions:   entries,
	}
}

// Restore replaces every registered strategy's state with the snapshot.
// Strategies missing from the ledger are rejected before anything changes.
func (l *Ledger) Restore(snapshot Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range snapshot.Positions {
		if _, ok := l.positions[entry.StrategyID]; !ok {
			return errs.NewIntegrity("restore", entry.StrategyID, exception.ErrUnknownStrategy)
		}
	}
	for _, entry := range snapshot.Positions {
		p := l.positions[entry.StrategyID]
		p.SignedPosition = entry.Qty
		p.MaxAbsPosition = entry.MaxAbs
		p.Enabled = entry.Enabled
		p.TradeCount = entry.TradeCount
		p.RealizedPnL = entry.RealizedPnL
		p.UnrealizedPnL = decimal.Zero
		p.EntryPrice = entry.EntryPrice
		p.Cost = CostBasis{TotalBuyNotional: entry.BuyNotional, TotalBuyVolume: entry.BuyVolume}
	}
	l.dailyPnL = snapshot.DailyPnL
	return nil
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errs.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errs.Wrap(err, "unmarshal snapshot")
	}
	return snap, nil
}

// CompareSnapshots checks that positions and realized P&L match.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return errs.Wrap(exception.ErrSnapshotMismatch, fmt.Sprintf("length expected=%d actual=%d", len(expected.Positions), len(actual.Positions)))
	}
	expectedMap := make(map[schema.StrategyID]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.StrategyID] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.StrategyID]
		if !ok {
			return errs.Wrap(exception.ErrSnapshotMismatch, fmt.Sprintf("missing strategy %s", entry.StrategyID))
		}
		if want.Qty != entry.Qty {
			return errs.Wrap(exception.ErrSnapshotMismatch, fmt.Sprintf("qty strategy=%s expected=%d actual=%d", entry.StrategyID, want.Qty, entry.Qty))
		}
		if !want.RealizedPnL.Equal(entry.RealizedPnL) {
			return errs.Wrap(exception.ErrSnapshotMismatch, fmt.Sprintf("realized strategy=%s expected=%s actual=%s", entry.StrategyID, want.RealizedPnL, entry.RealizedPnL))
		}
	}
	return nil
}
