package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"barwise/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading and
// backtesting. Every order fills in full at its reference price, stamped
// with the order's creation time. Nothing leaves the process.
type SimulatorBroker struct {
	queues sync.Map // symbol → *fillQueue
}

type fillQueue struct {
	mu      sync.Mutex
	pending []domain.Fill
}

// NewSimulatorBroker creates a new SimulatorBroker.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

func (b *SimulatorBroker) queue(symbol string) *fillQueue {
	if q, ok := b.queues.Load(symbol); ok {
		return q.(*fillQueue)
	}
	q, _ := b.queues.LoadOrStore(symbol, &fillQueue{})
	return q.(*fillQueue)
}

// Submit fills the order immediately.
func (b *SimulatorBroker) Submit(_ context.Context, order domain.Order) (string, error) {
	if order.Qty.Sign() <= 0 {
		return "", fmt.Errorf("simulator: order %s: quantity must be positive, got %s", order.ID, order.Qty)
	}
	if order.Price.Sign() <= 0 {
		return "", fmt.Errorf("simulator: order %s: no reference price", order.ID)
	}
	id := order.ID
	if id == "" {
		id = uuid.NewString()
	}

	q := b.queue(order.Symbol)
	q.mu.Lock()
	q.pending = append(q.pending, domain.Fill{
		OrderID:   id,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Qty:       order.Qty,
		Price:     order.Price,
		Timestamp: order.CreatedAt,
	})
	q.mu.Unlock()
	return id, nil
}

// Fills drains the fills queued for symbol.
func (b *SimulatorBroker) Fills(_ context.Context, symbol string) ([]domain.Fill, error) {
	v, ok := b.queues.Load(symbol)
	if !ok {
		return nil, nil
	}
	q := v.(*fillQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out, nil
}
