package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barwise/internal/config"
	"barwise/internal/domain"
)

var (
	// ErrRiskLimit is returned when an order would exceed the per-order
	// notional cap.
	ErrRiskLimit = errors.New("risk limit exceeded")
	// ErrNothingToClose is returned for a closing intention when no
	// quantity is held on that side.
	ErrNothingToClose = errors.New("nothing to close")
)

// Sizer turns intentions into orders and enforces the per-order notional
// cap.
type Sizer struct {
	maxNotional decimal.Decimal
	defaultQty  decimal.Decimal
}

// NewSizer creates a Sizer. Zero values disable the corresponding rule:
// with neither set every opening order is for one unit.
//
//   - maxNotional: cap on qty*price for opening orders; also used to size
//     them when defaultQty is zero.
//   - defaultQty: fixed opening quantity.
func NewSizer(maxNotional, defaultQty float64) *Sizer {
	return &Sizer{
		maxNotional: decimal.NewFromFloat(maxNotional),
		defaultQty:  decimal.NewFromFloat(defaultQty),
	}
}

// SizerFromConfig builds a Sizer from the trading section.
func SizerFromConfig(tc config.TradingConfig) *Sizer {
	return NewSizer(tc.MaxNotionalPerOrder, tc.DefaultQty)
}

// Order sizes in given the signed quantity currently held for its symbol
// (positive long, negative short).
func (s *Sizer) Order(in domain.Intention, held decimal.Decimal) (domain.Order, error) {
	order := domain.Order{
		ID:          uuid.NewString(),
		IntentionID: in.ID,
		Symbol:      in.Symbol,
		Side:        in.Direction.Side(),
		Price:       in.Price,
		CreatedAt:   in.Timestamp,
	}

	switch in.Direction {
	case domain.DirectionCloseLong:
		if !held.IsPositive() {
			return order, fmt.Errorf("%s %s: %w", in.Direction, in.Symbol, ErrNothingToClose)
		}
		order.Qty = held
		return order, nil
	case domain.DirectionCloseShort:
		if !held.IsNegative() {
			return order, fmt.Errorf("%s %s: %w", in.Direction, in.Symbol, ErrNothingToClose)
		}
		order.Qty = held.Neg()
		return order, nil
	}

	if !in.Price.IsPositive() {
		return order, fmt.Errorf("%s %s: no reference price", in.Direction, in.Symbol)
	}
	switch {
	case s.defaultQty.IsPositive():
		order.Qty = s.defaultQty
		if s.maxNotional.IsPositive() && order.Qty.Mul(in.Price).GreaterThan(s.maxNotional) {
			return order, fmt.Errorf("%s %s: notional %s > %s: %w",
				in.Direction, in.Symbol, order.Qty.Mul(in.Price).StringFixed(2), s.maxNotional.StringFixed(2), ErrRiskLimit)
		}
	case s.maxNotional.IsPositive():
		order.Qty = s.maxNotional.Div(in.Price).Floor()
		if order.Qty.LessThan(decimal.NewFromInt(1)) {
			return order, fmt.Errorf("%s %s: price %s > max notional %s: %w",
				in.Direction, in.Symbol, in.Price.StringFixed(2), s.maxNotional.StringFixed(2), ErrRiskLimit)
		}
	default:
		order.Qty = decimal.NewFromInt(1)
	}
	return order, nil
}

// holding is the signed quantity held for one instrument, as built from
// fills.
type holding struct {
	qty decimal.Decimal
}

func (h *holding) apply(f domain.Fill) {
	switch f.Side {
	case domain.SideBuy:
		h.qty = h.qty.Add(f.Qty)
	case domain.SideSell:
		h.qty = h.qty.Sub(f.Qty)
	}
}
