package og

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Gateway is the execution collaborator. A returned error means no position
// change occurred.
type Gateway interface {
	Submit(ctx context.Context, signal schema.OrderSignal) (orderID string, err error)
}

// FillPublisher hands a fill back to the event loop. It must not block.
type FillPublisher func(fill schema.Fill) error

// PaperConfig controls the simulated gateway.
type PaperConfig struct {
	Session       string
	TickSize      float64
	SlippageTicks float64
	FeePerFill    decimal.Decimal
	// PartialFills splits each order into this many fills.
	PartialFills int
	Seed         int64
}

// PaperGateway fills every order immediately at the signal's reference price
// plus slippage. Fills that cannot be published are kept and retried by Flush.
type PaperGateway struct {
	cfg       PaperConfig
	publish   FillPublisher
	mu        sync.Mutex
	entropy   io.Reader
	connected bool
	backlog   []schema.Fill
}

// NewPaperGateway creates a connected paper gateway.
func NewPaperGateway(cfg PaperConfig, publish FillPublisher) *PaperGateway {
	if cfg.Session == "" {
		cfg.Session = "PAPER"
	}
	if cfg.PartialFills <= 0 {
		cfg.PartialFills = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &PaperGateway{
		cfg:       cfg,
		publish:   publish,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(cfg.Seed)), 0),
		connected: true,
	}
}

// Submit assigns an order id and publishes the resulting fills.
func (g *PaperGateway) Submit(ctx context.Context, signal schema.OrderSignal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return "", exception.ErrGatewayDisconnected
	}
	if signal.Qty <= 0 || !signal.Side.Valid() {
		return "", errs.Wrap(exception.ErrSubmitRejected, fmt.Sprintf("signal %d", signal.SignalID))
	}

	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", errs.Wrap(err, "new order id")
	}
	orderID := id.String()
	fills := g.split(orderID, signal, now.UnixNano())

	if err := g.publish(fills[0]); err != nil {
		return "", errs.Wrap(exception.ErrSubmitRejected, err.Error())
	}
	for _, f := range fills[1:] {
		if err := g.publish(f); err != nil {
			g.backlog = append(g.backlog, f)
		}
	}
	return orderID, nil
}

func (g *PaperGateway) split(orderID string, signal schema.OrderSignal, ts int64) []schema.Fill {
	parts := min(schema.Quantity(g.cfg.PartialFills), signal.Qty)
	base := signal.Qty / parts
	rest := signal.Qty - base*parts

	price := signal.Price
	if g.cfg.TickSize > 0 && g.cfg.SlippageTicks > 0 {
		slip := schema.Price(g.cfg.SlippageTicks * g.cfg.TickSize)
		if signal.Side == schema.OrderSideBuy {
			price += slip
		} else {
			price -= slip
		}
		price = schema.RoundPrice(price, g.cfg.TickSize)
	}

	fills := make([]schema.Fill, 0, parts)
	for i := schema.Quantity(0); i < parts; i++ {
		qty := base
		if i == parts-1 {
			qty += rest
		}
		fills = append(fills, schema.Fill{
			OrderID:    orderID,
			ExecID:     fmt.Sprintf("%s-%s-%d", g.cfg.Session, orderID, i+1),
			StrategyID: signal.StrategyID,
			SymbolID:   signal.SymbolID,
			Side:       signal.Side,
			Qty:        qty,
			Price:      price,
			Fee:        g.cfg.FeePerFill,
			Ts:         ts,
		})
	}
	return fills
}

// Flush republishes fills that previously failed to publish and returns how
// many are still pending.
func (g *PaperGateway) Flush() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	pending := g.backlog[:0]
	for _, f := range g.backlog {
		if err := g.publish(f); err != nil {
			pending = append(pending, f)
		}
	}
	g.backlog = pending
	return len(g.backlog)
}

// Disconnect makes every Submit fail until Reconnect.
func (g *PaperGateway) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

// Reconnect restores the connection and flushes the backlog.
func (g *PaperGateway) Reconnect() int {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	return g.Flush()
}
