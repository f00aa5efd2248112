package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/calendar"
	"barwise/internal/domain"
	"barwise/internal/strategy"
)

var _ strategy.Policy = (*WeeklyMondayFriday)(nil)

// WeeklyMondayFriday opens a long on the first Monday bar of each ISO week
// and closes it on the first Friday bar. Other weekdays are no-ops.
type WeeklyMondayFriday struct {
	strategy.Base
	entries *calendar.Gate
	exits   *calendar.Gate
}

// NewWeeklyMondayFriday creates a WeeklyMondayFriday policy.
func NewWeeklyMondayFriday(name string, confidence decimal.Decimal) (*WeeklyMondayFriday, error) {
	base, err := strategy.NewBase(name, confidence)
	if err != nil {
		return nil, err
	}
	return &WeeklyMondayFriday{
		Base:    base,
		entries: calendar.NewGate(),
		exits:   calendar.NewGate(),
	}, nil
}

// OnBar implements strategy.Policy.
func (w *WeeklyMondayFriday) OnBar(_ context.Context, bar domain.Bar) ([]domain.Intention, error) {
	if !strategy.HasPrice(bar) {
		return nil, nil
	}

	day := bar.Timestamp.Weekday()
	week := calendar.WeekKey(bar.Timestamp)
	pos := w.Position(bar.Symbol)

	switch day {
	case time.Monday:
		if pos != domain.PositionFlat || w.entries.HasActed(bar.Symbol, week) {
			return nil, nil
		}
		w.entries.MarkActed(bar.Symbol, week)
		w.entries.Prune(bar.Symbol, week)
		return []domain.Intention{w.intention(bar, domain.DirectionOpenLong, "Monday entry", week)}, nil

	case time.Friday:
		if pos != domain.PositionLong || w.exits.HasActed(bar.Symbol, week) {
			return nil, nil
		}
		w.exits.MarkActed(bar.Symbol, week)
		w.exits.Prune(bar.Symbol, week)
		return []domain.Intention{w.intention(bar, domain.DirectionCloseLong, "Friday exit", week)}, nil
	}
	return nil, nil
}

func (w *WeeklyMondayFriday) intention(bar domain.Bar, dir domain.Direction, what, week string) domain.Intention {
	return w.Intention(bar, dir, fmt.Sprintf("%s - Week %s", what, week), map[string]string{
		"weekday":  bar.Timestamp.Weekday().String(),
		"week":     week,
		"strategy": "weekly_monday_friday",
	})
}

// Reset forgets which weeks were acted on.
func (w *WeeklyMondayFriday) Reset() {
	w.entries.Reset()
	w.exits.Reset()
	w.Base.Reset()
}
