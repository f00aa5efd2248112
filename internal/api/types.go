package api

import (
	"time"

	"barwise/internal/domain"
)

// IntentionJSON is the wire form of a trading intention. Decimals are
// strings so no precision is lost.
type IntentionJSON struct {
	ID         string            `json:"id"`
	Strategy   string            `json:"strategy"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol"`
	Direction  string            `json:"direction"`
	Price      string            `json:"price"`
	Confidence string            `json:"confidence"`
	Reason     string            `json:"reason"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FillJSON is the wire form of a confirmed fill.
type FillJSON struct {
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       string    `json:"qty"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// BarJSON is the wire form of a daily bar.
type BarJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    int64     `json:"volume"`
}

// PositionJSON is one instrument's position state.
type PositionJSON struct {
	Symbol string `json:"symbol"`
	State  string `json:"state"`
}

// StreamMessage is what the websocket feed sends.
type StreamMessage struct {
	Type      string         `json:"type"` // "intention"
	Intention *IntentionJSON `json:"intention,omitempty"`
}

func toIntentionJSON(in domain.Intention) IntentionJSON {
	return IntentionJSON{
		ID:         in.ID,
		Strategy:   in.StrategyID,
		Timestamp:  in.Timestamp,
		Symbol:     in.Symbol,
		Direction:  string(in.Direction),
		Price:      in.Price.String(),
		Confidence: in.Confidence.String(),
		Reason:     in.Reason,
		Metadata:   in.Metadata,
	}
}

func toFillJSON(f domain.Fill) FillJSON {
	return FillJSON{
		OrderID:   f.OrderID,
		Symbol:    f.Symbol,
		Side:      string(f.Side),
		Qty:       f.Qty.String(),
		Price:     f.Price.String(),
		Timestamp: f.Timestamp,
	}
}

func toBarJSON(b domain.Bar) BarJSON {
	return BarJSON{
		Timestamp: b.Timestamp,
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume,
	}
}
