package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Indicator = (*SMA)(nil)

// SMA is a simple moving average of closing prices, scaled by a positive
// multiplier (1 for the plain average).
type SMA struct {
	rolling
	multiplier decimal.Decimal
}

// NewSMA creates an SMA over period bars. period must be >= 1 and
// multiplier must be > 0.
func NewSMA(period int, multiplier decimal.Decimal) (*SMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: sma period must be >= 1, got %d", ErrInvalidConfig, period)
	}
	if multiplier.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sma multiplier must be > 0, got %s", ErrInvalidConfig, multiplier)
	}

	s := &SMA{multiplier: multiplier}
	s.rolling = rolling{
		name:    fmt.Sprintf("SMA(%d)", period),
		window:  NewWindow(period),
		compute: s.compute,
	}
	return s, nil
}

// MustSMA is NewSMA with multiplier 1 that panics on an invalid period.
// Intended for tests and fixed wiring.
func MustSMA(period int) *SMA {
	s, err := NewSMA(period, decimal.NewFromInt(1))
	if err != nil {
		panic(err)
	}
	return s
}

func (s *SMA) compute(window []decimal.Decimal) Value {
	m := mean(window)
	if !s.multiplier.Equal(decimal.NewFromInt(1)) {
		m = m.Mul(s.multiplier)
	}
	return Scalar(m)
}
