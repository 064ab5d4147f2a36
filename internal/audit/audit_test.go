package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
)

func TestRecorderStampsSession(t *testing.T) {
	mem := NewMemory()
	r := NewRecorder("", mem)
	_, err := uuid.Parse(r.Session())
	require.NoError(t, err)

	r.Deny(t.Context(),
		schema.OrderSignal{SignalID: 7, StrategyID: schema.StrategyOrderFlow},
		schema.RiskDecision{Action: schema.RiskActionDeny, Reason: schema.RiskReasonAggregateLimit})
	r.Record(t.Context(), Record{Kind: KindTransition, StrategyID: "order_flow", Reason: "disabled"})

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, r.Session(), recs[0].Session)
	assert.Equal(t, KindDeny, recs[0].Kind)
	assert.Equal(t, uint64(7), recs[0].SignalID)
	assert.Equal(t, "aggregate_limit", recs[0].Reason)
	assert.Equal(t, "aggregate position limit", recs[0].Detail)
	assert.False(t, recs[0].CreatedAt.IsZero())
	assert.Equal(t, 1, mem.Count(KindTransition))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(t.Context(), Record{Kind: KindExit})
	assert.Empty(t, r.Session())
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Write(context.Context, Record) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("db down")
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	r := NewRecorder("s-1", sink)
	r.Record(t.Context(), Record{Kind: KindIntegrity})
	assert.Equal(t, 1, sink.calls)
}

func TestAsyncDrainsOnClose(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, 16)
	for i := range 10 {
		require.NoError(t, a.Write(t.Context(), Record{Kind: KindExit, SignalID: uint64(i)}))
	}
	a.Close()

	recs := mem.Records()
	require.Len(t, recs, 10)
	for i, rec := range recs {
		assert.Equal(t, uint64(i), rec.SignalID)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		opt  PostgresOption
		want string
	}{
		{"defaults", PostgresOption{Database: "audit"}, "postgres://localhost:5432/audit?sslmode=disable"},
		{"credentials", PostgresOption{Host: "db", Port: 6543, User: "hft", Password: "pw", Database: "audit", SSLMode: "require"}, "postgres://hft:pw@db:6543/audit?sslmode=require"},
		{"params", PostgresOption{Database: "audit", Params: map[string]string{"application_name": "trader", "": "x"}}, "postgres://localhost:5432/audit?application_name=trader&sslmode=disable"},
		{"conn string wins", PostgresOption{ConnString: "host=x", Database: "audit"}, "host=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}
	assert.False(t, PostgresOption{Host: "db"}.Enabled())
}
