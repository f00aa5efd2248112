// Package builtins provides built-in policy implementations that ship with
// barwise.
package builtins

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"barwise/internal/cross"
	"barwise/internal/domain"
	"barwise/internal/indicator"
	"barwise/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Policy = (*SMACross)(nil)

const (
	DefaultFastPeriod = 10
	DefaultSlowPeriod = 50

	fastColor = "#667eea"
	slowColor = "#764ba2"
)

// SMACross implements a long-only moving average crossover policy. It asks
// to open a long when the fast SMA crosses above the slow SMA and to close
// it when the fast SMA crosses below.
//
// The decision on a bar only sees averages of earlier bars: the bar is
// pushed into the averages after the decision is made.
type SMACross struct {
	strategy.Base
	fastPeriod int
	slowPeriod int

	symbols sync.Map // symbol → *crossSlot
}

type crossSlot struct {
	mu       sync.Mutex
	fast     *indicator.SMA
	slow     *indicator.SMA
	detector cross.Detector
}

// NewSMACross creates a new SMACross policy. fast must be positive and
// smaller than slow.
func NewSMACross(name string, fast, slow int, confidence decimal.Decimal) (*SMACross, error) {
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("%w: %s: periods must be positive, got %d/%d", strategy.ErrInvalidConfig, name, fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: %s: fast period %d must be below slow period %d", strategy.ErrInvalidConfig, name, fast, slow)
	}
	base, err := strategy.NewBase(name, confidence)
	if err != nil {
		return nil, err
	}
	return &SMACross{Base: base, fastPeriod: fast, slowPeriod: slow}, nil
}

// Periods returns the fast and slow periods.
func (s *SMACross) Periods() (fast, slow int) { return s.fastPeriod, s.slowPeriod }

func (s *SMACross) slot(symbol string) *crossSlot {
	if v, ok := s.symbols.Load(symbol); ok {
		return v.(*crossSlot)
	}
	v, _ := s.symbols.LoadOrStore(symbol, &crossSlot{
		fast: indicator.MustSMA(s.fastPeriod),
		slow: indicator.MustSMA(s.slowPeriod),
	})
	return v.(*crossSlot)
}

// OnBar decides on the crossover seen over the bars before this one, then
// folds this bar into the averages.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) ([]domain.Intention, error) {
	if !strategy.HasPrice(bar) {
		return nil, nil
	}

	slot := s.slot(bar.Symbol)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	state := slot.detector.State()
	out := s.decide(bar, state)

	fast := slot.fast.Update(bar)
	slow := slot.slow.Update(bar)
	slot.detector.Push(fast, slow)

	if fast.Ready() && slow.Ready() {
		s.Track(bar.Symbol, bar.Timestamp,
			domain.IndicatorSample{
				Name:        "fast_sma",
				DisplayName: slot.fast.Name(),
				Placement:   "overlay",
				Color:       fastColor,
				Value:       fast.Decimal(),
			},
			domain.IndicatorSample{
				Name:        "slow_sma",
				DisplayName: slot.slow.Name(),
				Placement:   "overlay",
				Color:       slowColor,
				Value:       slow.Decimal(),
			},
		)
	}
	return out, nil
}

func (s *SMACross) decide(bar domain.Bar, state cross.State) []domain.Intention {
	var (
		dir    domain.Direction
		reason string
	)
	cf, cs := state.CurrFast.Decimal(), state.CurrSlow.Decimal()

	switch state.Event() {
	case cross.Up:
		if s.IsLong(bar.Symbol) {
			return nil
		}
		dir = domain.DirectionOpenLong
		reason = fmt.Sprintf("Golden cross: fast SMA (%s) > slow SMA (%s)", cf.StringFixed(2), cs.StringFixed(2))
	case cross.Down:
		if !s.IsLong(bar.Symbol) {
			return nil
		}
		dir = domain.DirectionCloseLong
		reason = fmt.Sprintf("Death cross: fast SMA (%s) < slow SMA (%s)", cf.StringFixed(2), cs.StringFixed(2))
	default:
		return nil
	}

	meta := map[string]string{
		"fast_sma":       cf.String(),
		"slow_sma":       cs.String(),
		"prev_fast_sma":  state.PrevFast.Decimal().String(),
		"prev_slow_sma":  state.PrevSlow.Decimal().String(),
		"crossover_type": state.Event().String(),
	}
	return []domain.Intention{s.Intention(bar, dir, reason, meta)}
}

// Reset forgets every instrument's averages, crossover state and position.
func (s *SMACross) Reset() {
	s.symbols.Range(func(k, _ any) bool {
		s.symbols.Delete(k)
		return true
	})
	s.Base.Reset()
}
