package exception

import "github.com/yanun0323/errors"

var (
	ErrUnroutableFill    = errors.New("router: fill has no registered owner")
	ErrDuplicateFill     = errors.New("router: fill already applied")
	ErrStrategyMismatch  = errors.New("router: fill strategy differs from order origin")
	ErrDuplicateOrder    = errors.New("router: order already exists")
	ErrInvalidFill       = errors.New("router: fill exceeds order leaves quantity")
	ErrInvalidTransition = errors.New("router: invalid order state transition")
)
