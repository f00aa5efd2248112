package indicator

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Field names reported by Bands.
const (
	FieldUpper  = "upper"
	FieldMiddle = "middle"
	FieldLower  = "lower"
)

// sqrtPrecision is the number of decimal places kept by sqrt.
const sqrtPrecision int32 = 16

// Compile-time interface check.
var _ Indicator = (*Bands)(nil)

// Bands reports a mean with upper and lower bands at k population standard
// deviations (Bollinger style).
type Bands struct {
	rolling
	k decimal.Decimal
}

// NewBands creates Bands over period bars. period must be >= 2 and k must
// be > 0.
func NewBands(period int, k decimal.Decimal) (*Bands, error) {
	if period < 2 {
		return nil, fmt.Errorf("%w: bands period must be >= 2, got %d", ErrInvalidConfig, period)
	}
	if k.Sign() <= 0 {
		return nil, fmt.Errorf("%w: bands width must be > 0, got %s", ErrInvalidConfig, k)
	}

	b := &Bands{k: k}
	b.rolling = rolling{
		name:    fmt.Sprintf("BANDS(%d,%s)", period, k),
		window:  NewWindow(period),
		compute: b.compute,
	}
	return b, nil
}

func (b *Bands) compute(window []decimal.Decimal) Value {
	middle := mean(window)

	// Population variance: divide by N.
	sq := decimal.Zero
	for _, v := range window {
		d := v.Sub(middle)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(decimal.NewFromInt(int64(len(window))))
	width := b.k.Mul(sqrt(variance))

	return Fields(map[string]decimal.Decimal{
		FieldUpper:  middle.Add(width),
		FieldMiddle: middle,
		FieldLower:  middle.Sub(width),
	})
}

// sqrt computes a square root to sqrtPrecision places with Newton's method.
// It is deterministic for a given input, which keeps both computation modes
// identical.
func sqrt(v decimal.Decimal) decimal.Decimal {
	if v.Sign() <= 0 {
		return decimal.Zero
	}
	two := decimal.NewFromInt(2)

	x := decimal.NewFromFloat(math.Sqrt(v.InexactFloat64()))
	if x.Sign() <= 0 {
		x = v
	}
	for i := 0; i < 64; i++ {
		next := x.Add(v.DivRound(x, sqrtPrecision)).DivRound(two, sqrtPrecision)
		if next.Equal(x) {
			break
		}
		x = next
	}
	return x
}
