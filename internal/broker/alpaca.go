package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"barwise/internal/domain"
	"barwise/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// orderClient is the part of *alpaca.Client the broker uses.
type orderClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
}

// AlpacaBroker implements the Broker interface using the Alpaca brokerage
// API. Orders are submitted as day market orders; Fills polls the orders
// still pending for a symbol and reports each filled order once.
type AlpacaBroker struct {
	client  orderClient
	limiter *util.RateLimiter
	log     *slog.Logger

	pending sync.Map // symbol → *pendingOrders
}

type pendingOrders struct {
	mu  sync.Mutex
	ids []string
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaBroker(client)
}

func newAlpacaBroker(client orderClient) *AlpacaBroker {
	return &AlpacaBroker{
		client:  client,
		limiter: util.NewRateLimiter(200),
		log:     slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

func (b *AlpacaBroker) orders(symbol string) *pendingOrders {
	if p, ok := b.pending.Load(symbol); ok {
		return p.(*pendingOrders)
	}
	p, _ := b.pending.LoadOrStore(symbol, &pendingOrders{})
	return p.(*pendingOrders)
}

// Submit places a market order. The order's own ID is sent as the client
// order ID.
func (b *AlpacaBroker) Submit(ctx context.Context, order domain.Order) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	side := alpaca.Buy
	if order.Side == domain.SideSell {
		side = alpaca.Sell
	}
	qty := order.Qty
	placed, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	})
	if err != nil {
		return "", fmt.Errorf("alpaca: placing %s %s %s: %w", order.Side, qty, order.Symbol, err)
	}

	p := b.orders(order.Symbol)
	p.mu.Lock()
	p.ids = append(p.ids, placed.ID)
	p.mu.Unlock()

	b.log.Info("order placed", "id", placed.ID, "symbol", order.Symbol, "side", order.Side, "qty", qty.String())
	return placed.ID, nil
}

// Fills polls pending orders for symbol. Filled orders become fills and
// leave the pending list; canceled, expired and rejected orders leave it
// without a fill. Orders that cannot be fetched stay pending.
func (b *AlpacaBroker) Fills(ctx context.Context, symbol string) ([]domain.Fill, error) {
	v, ok := b.pending.Load(symbol)
	if !ok {
		return nil, nil
	}
	p := v.(*pendingOrders)
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		fills []domain.Fill
		keep  []string
	)
	for _, id := range p.ids {
		var o *alpaca.Order
		err := util.Retry(ctx, 3, 250*time.Millisecond, func() error {
			if err := b.limiter.Wait(ctx); err != nil {
				return util.Permanent(err)
			}
			var err error
			o, err = b.client.GetOrder(id)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return fills, ctx.Err()
			}
			b.log.Warn("order poll failed", "id", id, "error", err)
			keep = append(keep, id)
			continue
		}

		switch o.Status {
		case "filled":
			fills = append(fills, toFill(o))
		case "canceled", "expired", "rejected":
			b.log.Warn("order closed without fill", "id", id, "status", o.Status)
		default:
			keep = append(keep, id)
		}
	}
	p.ids = keep
	return fills, nil
}

func toFill(o *alpaca.Order) domain.Fill {
	f := domain.Fill{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    domain.SideBuy,
		Qty:     o.FilledQty,
	}
	if o.Side == alpaca.Sell {
		f.Side = domain.SideSell
	}
	if o.FilledAvgPrice != nil {
		f.Price = *o.FilledAvgPrice
	}
	if o.FilledAt != nil {
		f.Timestamp = *o.FilledAt
	} else {
		f.Timestamp = time.Now()
	}
	return f
}
