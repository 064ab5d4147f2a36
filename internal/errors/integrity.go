package errors

import (
	"fmt"
	"strings"

	"hftcore/internal/schema"
)

// Integrity reports a violated boundary contract. The operation that
// returned it applied nothing.
type Integrity struct {
	Op         string
	StrategyID schema.StrategyID
	SignalID   uint64
	OrderID    string
	Err        error
}

// NewIntegrity builds an integrity error around a sentinel.
func NewIntegrity(op string, strategyID schema.StrategyID, err error) *Integrity {
	return &Integrity{Op: op, StrategyID: strategyID, Err: err}
}

// WithSignal attaches the offending signal id.
func (e *Integrity) WithSignal(id uint64) *Integrity {
	e.SignalID = id
	return e
}

// WithOrder attaches the offending order id.
func (e *Integrity) WithOrder(id string) *Integrity {
	e.OrderID = id
	return e
}

func (e *Integrity) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	fmt.Fprintf(&b, " strategy=%s", e.StrategyID)
	if e.SignalID != 0 {
		fmt.Fprintf(&b, " signal=%d", e.SignalID)
	}
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.Err != nil {
		b.WriteString(sep)
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Integrity) Unwrap() error {
	return e.Err
}

// IsIntegrity reports whether err carries an Integrity error.
func IsIntegrity(err error) bool {
	var target *Integrity
	return As(err, &target)
}
