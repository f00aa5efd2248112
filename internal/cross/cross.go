// Package cross classifies crossings between a fast and a slow indicator
// series.
package cross

import (
	"github.com/shopspring/decimal"

	"barwise/internal/indicator"
)

// Event is the outcome of classifying one step.
type Event int

const (
	None Event = iota
	Up         // golden cross
	Down       // death cross
)

// String returns "none", "golden" or "death".
func (e Event) String() string {
	switch e {
	case Up:
		return "golden"
	case Down:
		return "death"
	default:
		return "none"
	}
}

// Classify compares the previous and current readings of two series. A tie
// on the previous step counts toward the triggering side; a tie on the
// current step never triggers.
func Classify(prevFast, prevSlow, currFast, currSlow decimal.Decimal) Event {
	switch {
	case prevFast.LessThanOrEqual(prevSlow) && currFast.GreaterThan(currSlow):
		return Up
	case prevFast.GreaterThanOrEqual(prevSlow) && currFast.LessThan(currSlow):
		return Down
	default:
		return None
	}
}

// State holds the two most recent readings of each series. It is
// overwritten on every step.
type State struct {
	PrevFast indicator.Value
	PrevSlow indicator.Value
	CurrFast indicator.Value
	CurrSlow indicator.Value
}

// Ready reports whether both steps of both series are warmed up.
func (s State) Ready() bool {
	return s.PrevFast.Ready() && s.PrevSlow.Ready() && s.CurrFast.Ready() && s.CurrSlow.Ready()
}

// Event classifies the state, returning None until it is Ready.
func (s State) Event() Event {
	if !s.Ready() {
		return None
	}
	return Classify(s.PrevFast.Decimal(), s.PrevSlow.Decimal(), s.CurrFast.Decimal(), s.CurrSlow.Decimal())
}

// Detector keeps the State for one fast/slow pairing.
type Detector struct {
	state State
}

// Push records the readings for a new step, shifting the current readings
// into the previous slot, and returns the resulting event.
func (d *Detector) Push(fast, slow indicator.Value) Event {
	d.state = State{
		PrevFast: d.state.CurrFast,
		PrevSlow: d.state.CurrSlow,
		CurrFast: fast,
		CurrSlow: slow,
	}
	return d.state.Event()
}

// State returns a copy of the current state.
func (d *Detector) State() State { return d.state }

// Event classifies the latest step.
func (d *Detector) Event() Event { return d.state.Event() }

// Reset forgets both steps.
func (d *Detector) Reset() { d.state = State{} }

// Series classifies every index of two aligned batch series. Index 0 is
// always None because it has no previous step.
func Series(fast, slow []indicator.Value) []Event {
	n := min(len(fast), len(slow))
	out := make([]Event, n)
	for i := 1; i < n; i++ {
		out[i] = State{
			PrevFast: fast[i-1],
			PrevSlow: slow[i-1],
			CurrFast: fast[i],
			CurrSlow: slow[i],
		}.Event()
	}
	return out
}
