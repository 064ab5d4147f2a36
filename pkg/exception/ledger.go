package exception

import "github.com/yanun0323/errors"

var (
	ErrUnknownStrategy     = errors.New("ledger: unknown strategy")
	ErrNonPositiveQuantity = errors.New("ledger: quantity must be positive")
	ErrUnknownSide         = errors.New("ledger: unknown order side")
	ErrStrategyExists      = errors.New("ledger: strategy already registered")
	ErrSnapshotMismatch    = errors.New("ledger: snapshot mismatch")
)
