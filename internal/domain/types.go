// Package domain defines the core value types shared across barwise: bars,
// fills, positions and trading intentions.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the market a symbol trades in.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one period of OHLCV data for a single instrument. Bars for one
// symbol arrive in strictly increasing Timestamp order.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Side is the side of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Fill confirms that (part of) an order executed. Fills are the only input
// that changes position state.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      Side
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// PositionState is the qualitative position held in one instrument.
type PositionState string

const (
	PositionFlat  PositionState = "flat"
	PositionLong  PositionState = "long"
	PositionShort PositionState = "short"
)

// Direction is what a trading intention asks for.
type Direction string

const (
	DirectionOpenLong   Direction = "open_long"
	DirectionCloseLong  Direction = "close_long"
	DirectionOpenShort  Direction = "open_short"
	DirectionCloseShort Direction = "close_short"
)

// Side returns the order side that carries out the direction.
func (d Direction) Side() Side {
	switch d {
	case DirectionOpenLong, DirectionCloseShort:
		return SideBuy
	default:
		return SideSell
	}
}

// Intention is a request emitted by a policy. It is not an order and has no
// effect on position state until a matching Fill is confirmed.
type Intention struct {
	ID         string
	StrategyID string
	Timestamp  time.Time
	Symbol     string
	Direction  Direction
	Price      decimal.Decimal
	Confidence decimal.Decimal
	Reason     string
	Metadata   map[string]string
}

// Order is what the execution layer receives after sizing an Intention.
type Order struct {
	ID          string
	IntentionID string
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	Price       decimal.Decimal
	CreatedAt   time.Time
}

// IndicatorSample is a diagnostic reading surfaced for charts and logs. It
// never feeds back into decisions.
type IndicatorSample struct {
	Name        string
	DisplayName string
	Placement   string // "overlay" or "subplot"
	Color       string
	Value       decimal.Decimal
	Fields      map[string]decimal.Decimal
}
