// Package broker defines the Broker interface and provides implementations
// that turn orders into confirmed fills.
package broker

import (
	"context"

	"barwise/internal/domain"
)

// Broker abstracts order execution.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Submit sends an order for execution and returns the broker's order ID.
	// Submitting never changes position state; only fills do.
	Submit(ctx context.Context, order domain.Order) (string, error)

	// Fills returns the fills for symbol confirmed since the previous call.
	// Each fill is returned exactly once.
	Fills(ctx context.Context, symbol string) ([]domain.Fill, error)
}
