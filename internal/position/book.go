// Package position tracks the qualitative position per instrument. State
// changes only when a confirmed fill is applied; trading intentions never
// touch it.
package position

import (
	"sort"
	"sync"

	"barwise/internal/domain"
)

// Next returns the state reached by applying a fill on side to current.
// A fill closes an opposing position if one exists, otherwise it opens or
// extends its own side. Quantity does not matter.
func Next(current domain.PositionState, side domain.Side) domain.PositionState {
	switch side {
	case domain.SideBuy:
		if current == domain.PositionShort {
			return domain.PositionFlat
		}
		return domain.PositionLong
	case domain.SideSell:
		if current == domain.PositionLong {
			return domain.PositionFlat
		}
		return domain.PositionShort
	default:
		return current
	}
}

// entry is the per-instrument slot. Each slot has its own lock so that
// instruments never contend with each other.
type entry struct {
	mu    sync.Mutex
	state domain.PositionState
}

// Book is the per-instrument position table. The zero value is ready to use
// and every instrument starts flat.
type Book struct {
	entries sync.Map // symbol → *entry
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{}
}

func (b *Book) slot(symbol string) *entry {
	if e, ok := b.entries.Load(symbol); ok {
		return e.(*entry)
	}
	e, _ := b.entries.LoadOrStore(symbol, &entry{state: domain.PositionFlat})
	return e.(*entry)
}

// Apply transitions the fill's instrument and returns the states before and
// after the fill.
func (b *Book) Apply(fill domain.Fill) (from, to domain.PositionState) {
	e := b.slot(fill.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	from = e.state
	e.state = Next(from, fill.Side)
	return from, e.state
}

// State returns the current state of symbol, flat if no fill was applied.
func (b *Book) State(symbol string) domain.PositionState {
	v, ok := b.entries.Load(symbol)
	if !ok {
		return domain.PositionFlat
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsLong is shorthand for State(symbol) == PositionLong.
func (b *Book) IsLong(symbol string) bool {
	return b.State(symbol) == domain.PositionLong
}

// Snapshot returns the state of every instrument seen so far.
func (b *Book) Snapshot() map[string]domain.PositionState {
	out := make(map[string]domain.PositionState)
	b.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(string)] = e.state
		e.mu.Unlock()
		return true
	})
	return out
}

// Symbols returns the instruments seen so far in sorted order.
func (b *Book) Symbols() []string {
	var syms []string
	b.entries.Range(func(k, _ any) bool {
		syms = append(syms, k.(string))
		return true
	})
	sort.Strings(syms)
	return syms
}

// Reset forgets all instruments.
func (b *Book) Reset() {
	b.entries.Range(func(k, _ any) bool {
		b.entries.Delete(k)
		return true
	})
}
