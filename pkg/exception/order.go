package exception

import "github.com/yanun0323/errors"

var (
	ErrGatewayDisconnected = errors.New("order: gateway disconnected")
	ErrSubmitRejected      = errors.New("order: submission rejected")
	ErrEventQueueFull      = errors.New("order: event queue full")
	ErrEventQueueClosed    = errors.New("order: event queue closed")
)
