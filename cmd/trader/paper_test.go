package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/chaos"
	"hftcore/internal/mdg"
	"hftcore/internal/ops"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

// quoteTape renders n synthetic quotes behind a comment line.
func quoteTape(t *testing.T, n int) *bytes.Buffer {
	t.Helper()
	buf := bytes.NewBufferString("# generated\n")
	opts := genOptions{count: n, start: "2026-01-05T09:00:00Z", gen: mdg.DefaultGeneratorConfig()}
	require.NoError(t, runGen(opts, buf))
	return buf
}

func loadDefaults(t *testing.T) ops.Loaded {
	t.Helper()
	l, err := ops.Resolve(ops.DefaultFileConfig())
	require.NoError(t, err)
	return l
}

func TestPaperReplay(t *testing.T) {
	p, err := newPaper(loadDefaults(t))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.replay(t.Context(), quoteTape(t, 300)))

	s := p.metrics.Snapshot()
	assert.Equal(t, uint64(300), s.Quotes)
	assert.Equal(t, s.Signals, s.Allowed+s.DeniedTotal())
	assert.Zero(t, s.SubmitFailures)
	assert.Zero(t, s.IntegrityErrors)
	assert.Zero(t, s.Expired)
	assert.Zero(t, p.queue.Len())
	assert.Zero(t, p.engine.Book().Open())

	ledger := p.engine.Ledger()
	agg := ledger.Aggregate()
	assert.LessOrEqual(t, agg.TotalSignedPosition.Abs(), agg.MaxAbsTotalPosition)
	var sum schema.Quantity
	for _, id := range ledger.Strategies() {
		pos, err := ledger.Position(id)
		require.NoError(t, err)
		assert.LessOrEqual(t, pos.SignedPosition.Abs(), pos.MaxAbsPosition, id.String())
		sum += pos.SignedPosition
	}
	assert.Equal(t, sum, agg.TotalSignedPosition)
}

func TestPaperDuplicatedFillsApplyOnce(t *testing.T) {
	clean, err := newPaper(loadDefaults(t))
	require.NoError(t, err)
	defer clean.Close()
	require.NoError(t, clean.replay(t.Context(), quoteTape(t, 300)))

	cfg := ops.DefaultFileConfig()
	cfg.Chaos = chaos.Config{Seed: 9, DuplicateRate: 1, ReorderWindow: 1}
	loaded, err := ops.Resolve(cfg)
	require.NoError(t, err)
	noisy, err := newPaper(loaded)
	require.NoError(t, err)
	defer noisy.Close()
	require.NoError(t, noisy.replay(t.Context(), quoteTape(t, 300)))

	require.NoError(t, state.CompareSnapshots(clean.engine.Ledger().Snapshot(), noisy.engine.Ledger().Snapshot()))
	assert.Equal(t, clean.metrics.Snapshot().Fills, noisy.metrics.Snapshot().Fills)
	assert.Equal(t, uint64(noisy.chaos.Stats().Duplicated), noisy.metrics.Snapshot().IntegrityErrors)
	assert.Equal(t, noisy.metrics.Snapshot().IntegrityErrors, noisy.unapplied)
	assert.Zero(t, clean.unapplied)
}

func TestPaperDroppedFillsExpire(t *testing.T) {
	cfg := ops.DefaultFileConfig()
	cfg.Orders.Timeout = time.Second
	cfg.Chaos = chaos.Config{Seed: 3, DropRate: 1, ReorderWindow: 1}
	loaded, err := ops.Resolve(cfg)
	require.NoError(t, err)
	p, err := newPaper(loaded)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.replay(t.Context(), quoteTape(t, 300)))

	s := p.metrics.Snapshot()
	assert.Zero(t, s.Fills)
	assert.Positive(t, s.Expired)
	assert.Greater(t, s.Allowed, s.Expired, "expired orders free their strategy for new signals")
	assert.Equal(t, s.Allowed-s.Expired, uint64(p.engine.Book().Open()))
	for _, st := range p.engine.Statuses() {
		buy, sell := p.engine.Book().Pending(st.StrategyID)
		assert.Equal(t, buy+sell, st.InFlight, st.StrategyID.String())
	}
}

func TestPaperRestoreAndSnapshot(t *testing.T) {
	first, err := newPaper(loadDefaults(t))
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.replay(t.Context(), quoteTape(t, 120)))

	path := filepath.Join(t.TempDir(), "positions.json")
	want := first.engine.Ledger().SnapshotWithSeq(first.lastSeq)
	require.NoError(t, state.WriteSnapshot(path, want))

	second, err := newPaper(loadDefaults(t))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.restore(path))

	assert.Equal(t, want.LastSeq, second.lastSeq)
	require.NoError(t, state.CompareSnapshots(want, second.engine.Ledger().Snapshot()))

	out := &bytes.Buffer{}
	require.NoError(t, printSnapshot(out, want))
	assert.Contains(t, out.String(), `"positions"`)
}

func TestPaperRejectsBadQuote(t *testing.T) {
	p, err := newPaper(loadDefaults(t))
	require.NoError(t, err)
	defer p.Close()

	err = p.replay(t.Context(), strings.NewReader("{\"bid\":1,\"ask\":1.1}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, uint64(1), p.metrics.Snapshot().Quotes)
}

func TestGenRejectsBadInput(t *testing.T) {
	opts := genOptions{count: 0, start: "2026-01-05T09:00:00Z", gen: mdg.DefaultGeneratorConfig()}
	assert.Error(t, runGen(opts, &bytes.Buffer{}))

	opts.count = 1
	opts.start = "yesterday"
	assert.Error(t, runGen(opts, &bytes.Buffer{}))
}
