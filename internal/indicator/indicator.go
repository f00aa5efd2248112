// Package indicator provides rolling technical indicators over closing
// prices.
//
// Every indicator supports two computation modes that agree exactly at each
// warmed-up point: Calculate replays a whole bar slice, Update consumes one
// bar at a time. Both modes slide the same Window and call the same compute
// function, so there is a single place where the numbers are produced.
package indicator

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"barwise/internal/domain"
)

// ErrInvalidConfig is returned by constructors for invalid parameters.
var ErrInvalidConfig = errors.New("invalid indicator config")

// Indicator is the interface all rolling indicators implement.
type Indicator interface {
	// Name returns a display label such as "SMA(20)".
	Name() string

	// Period returns the window size.
	Period() int

	// Update feeds one bar and returns the value for the trailing window,
	// or NotReady while fewer than Period bars have been seen.
	Update(bar domain.Bar) Value

	// Calculate returns one value per input bar (oldest first) without
	// touching the incremental state.
	Calculate(bars []domain.Bar) []Value

	// Value returns the most recent value produced by Update.
	Value() Value

	// Ready reports whether Period bars have been observed.
	Ready() bool

	// Reset clears the window and cached value. Parameters are kept.
	Reset()
}

// Value is an indicator reading: either a scalar or a small set of named
// fields. The zero Value is not ready, which is distinct from a ready zero.
type Value struct {
	ready  bool
	scalar decimal.Decimal
	fields map[string]decimal.Decimal
}

// NotReady is the value reported during warm-up.
var NotReady = Value{}

// Scalar returns a ready single-valued reading.
func Scalar(v decimal.Decimal) Value {
	return Value{ready: true, scalar: v}
}

// Fields returns a ready multi-valued reading.
func Fields(m map[string]decimal.Decimal) Value {
	return Value{ready: true, fields: m}
}

// Ready reports whether the value was computed from a full window.
func (v Value) Ready() bool { return v.ready }

// Decimal returns the scalar reading. For multi-valued readings it returns
// zero.
func (v Value) Decimal() decimal.Decimal { return v.scalar }

// Field returns a named reading of a multi-valued indicator.
func (v Value) Field(name string) (decimal.Decimal, bool) {
	d, ok := v.fields[name]
	return d, ok
}

// Names returns the field names in sorted order.
func (v Value) Names() []string {
	names := make([]string, 0, len(v.fields))
	for k := range v.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports exact equality, including readiness.
func (v Value) Equal(o Value) bool {
	if v.ready != o.ready {
		return false
	}
	if !v.ready {
		return true
	}
	if !v.scalar.Equal(o.scalar) || len(v.fields) != len(o.fields) {
		return false
	}
	for k, d := range v.fields {
		od, ok := o.fields[k]
		if !ok || !d.Equal(od) {
			return false
		}
	}
	return true
}

// String formats the value for logs.
func (v Value) String() string {
	if !v.ready {
		return "not-ready"
	}
	if v.fields == nil {
		return v.scalar.String()
	}
	s := "{"
	for i, k := range v.Names() {
		if i > 0 {
			s += " "
		}
		s += k + ":" + v.fields[k].String()
	}
	return s + "}"
}

// rolling implements both computation modes on top of a Window and a pure
// compute function.
type rolling struct {
	name    string
	window  *Window
	compute func([]decimal.Decimal) Value
	current Value
}

func (r *rolling) Name() string { return r.name }
func (r *rolling) Period() int  { return r.window.Cap() }
func (r *rolling) Value() Value { return r.current }
func (r *rolling) Ready() bool  { return r.window.Full() }

func (r *rolling) Update(bar domain.Bar) Value {
	r.current = r.push(r.window, bar.Close)
	return r.current
}

func (r *rolling) Calculate(bars []domain.Bar) []Value {
	out := make([]Value, len(bars))
	w := NewWindow(r.window.Cap())
	for i, b := range bars {
		out[i] = r.push(w, b.Close)
	}
	return out
}

func (r *rolling) Reset() {
	r.window.Reset()
	r.current = NotReady
}

func (r *rolling) push(w *Window, price decimal.Decimal) Value {
	w.Push(price)
	if !w.Full() {
		return NotReady
	}
	return r.compute(w.Values())
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
