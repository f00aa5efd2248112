// Package store defines storage interfaces for persisting and retrieving
// bars, intentions and fills.
package store

import (
	"context"
	"time"

	"barwise/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data for one market.
type BarStore interface {
	// WriteBars persists a batch of bars, replacing any bar with the same
	// symbol and timestamp.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], oldest first.
	// A zero start or end leaves that side of the range open.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// Journal records what the engine asked for and what executed.
type Journal interface {
	// SaveIntention records an emitted intention.
	SaveIntention(ctx context.Context, in domain.Intention) error

	// SaveFill records a confirmed fill.
	SaveFill(ctx context.Context, f domain.Fill) error
}

// JournalReader reads the journal back.
type JournalReader interface {
	// ListIntentions returns the most recent intentions for a strategy, up
	// to limit, newest first. An empty strategyID matches all; limit <= 0
	// means no limit.
	ListIntentions(ctx context.Context, strategyID string, limit int) ([]domain.Intention, error)

	// ListFills returns fills for symbol in the order they were saved. An
	// empty symbol matches all.
	ListFills(ctx context.Context, symbol string) ([]domain.Fill, error)
}
