package builtins

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"barwise/internal/config"
	"barwise/internal/strategy"
)

// Policy kinds accepted in configuration.
const (
	KindSMACrossover       = "sma_crossover"
	KindBuyAndHold         = "buy_and_hold"
	KindWeeklyMondayFriday = "weekly_monday_friday"
)

// Kinds lists the builtin policy kinds.
func Kinds() []string {
	return []string{KindBuyAndHold, KindSMACrossover, KindWeeklyMondayFriday}
}

// New builds a policy from its configuration. Unset periods and confidence
// take the builtin defaults; anything else invalid is an error wrapping
// strategy.ErrInvalidConfig.
func New(sc config.StrategyConfig, log *slog.Logger) (strategy.Policy, error) {
	name := sc.Name
	if name == "" {
		name = sc.Kind
	}
	confidence := decimal.NewFromInt(1)
	if sc.Confidence != 0 {
		confidence = decimal.NewFromFloat(sc.Confidence)
	}

	var (
		p   strategy.Policy
		err error
	)
	switch sc.Kind {
	case KindSMACrossover:
		fast, slow := sc.FastPeriod, sc.SlowPeriod
		if fast == 0 {
			fast = DefaultFastPeriod
		}
		if slow == 0 {
			slow = DefaultSlowPeriod
		}
		p, err = NewSMACross(name, fast, slow, confidence)
	case KindBuyAndHold:
		p, err = NewBuyAndHold(name, confidence)
	case KindWeeklyMondayFriday:
		p, err = NewWeeklyMondayFriday(name, confidence)
	default:
		return nil, fmt.Errorf("%w: %s: unknown kind %q", strategy.ErrInvalidConfig, name, sc.Kind)
	}
	if err != nil {
		return nil, err
	}

	if sc.LogIndicators && log != nil {
		if o, ok := p.(strategy.Observable); ok {
			o.SetObserver(strategy.LogObserver{Log: log.With("component", "indicators")})
		}
	}
	return p, nil
}

// RegisterAll builds every configured policy into r. All construction
// errors are reported together.
func RegisterAll(r *strategy.Registry, configs []config.StrategyConfig, log *slog.Logger) error {
	var errs []error
	for _, sc := range configs {
		p, err := New(sc, log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Register(p)
	}
	return errors.Join(errs...)
}
