package indicator

import "github.com/shopspring/decimal"

// Window is a bounded FIFO of the most recent closing prices. Once it holds
// Cap values it stays full: every Push drops the oldest value.
type Window struct {
	buf   []decimal.Decimal
	start int
	n     int
}

// NewWindow creates an empty Window holding at most capacity values.
// capacity must be positive.
func NewWindow(capacity int) *Window {
	return &Window{buf: make([]decimal.Decimal, capacity)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window) Push(v decimal.Decimal) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of values currently held.
func (w *Window) Len() int { return w.n }

// Cap returns the configured window size.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap values.
func (w *Window) Full() bool { return w.n == len(w.buf) }

// Values returns the held values oldest first. The slice is a copy.
func (w *Window) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Reset empties the window without changing its capacity.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = decimal.Decimal{}
	}
	w.start = 0
	w.n = 0
}
