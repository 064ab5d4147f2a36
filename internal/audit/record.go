// Package audit keeps a trail of every denial, integrity error, exit trigger
// and strategy state transition produced by the core.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"hftcore/internal/schema"
)

// Kind classifies a record.
type Kind string

const (
	KindDeny       Kind = "deny"
	KindIntegrity  Kind = "integrity"
	KindExit       Kind = "exit"
	KindTransition Kind = "transition"
	KindSubmit     Kind = "submit_failed"
	KindExpire     Kind = "order_expired"
)

// Record is one audit entry. It doubles as the gorm model.
type Record struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Session    string    `gorm:"size:36;index" json:"session"`
	Kind       Kind      `gorm:"size:32;index" json:"kind"`
	StrategyID string    `gorm:"size:32;index" json:"strategy"`
	SignalID   uint64    `json:"signalId,omitempty"`
	OrderID    string    `gorm:"size:64" json:"orderId,omitempty"`
	Reason     string    `gorm:"size:64" json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Record) TableName() string {
	return "audit_records"
}

// Sink persists records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// NewSession returns a fresh session id for one engine run.
func NewSession() string {
	return uuid.NewString()
}

// Recorder stamps records with the session and forwards them to a sink.
// A nil Recorder discards everything.
type Recorder struct {
	session string
	sink    Sink
	now     func() time.Time
}

// NewRecorder creates a recorder for session.
func NewRecorder(session string, sink Sink) *Recorder {
	if session == "" {
		session = NewSession()
	}
	return &Recorder{session: session, sink: sink, now: time.Now}
}

// Session returns the session id.
func (r *Recorder) Session() string {
	if r == nil {
		return ""
	}
	return r.session
}

// Record writes rec. Sink failures are logged and never reach the caller.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || r.sink == nil {
		return
	}
	rec.Session = r.session
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		logs.Errorf("write audit record failed, kind: %s, strategy: %s, err: %+v", rec.Kind, rec.StrategyID, err)
	}
}

// Deny records an admission denial.
func (r *Recorder) Deny(ctx context.Context, signal schema.OrderSignal, decision schema.RiskDecision) {
	r.Record(ctx, Record{
		Kind:       KindDeny,
		StrategyID: signal.StrategyID.String(),
		SignalID:   signal.SignalID,
		Reason:     decision.Reason.Label(),
		Detail:     decision.Reason.String(),
	})
}

// Memory keeps records in process. It is used by tests and the paper command.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uint64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Count returns the number of records of kind.
func (m *Memory) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}
