package builtins

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"barwise/internal/domain"
	"barwise/internal/strategy"
)

var _ strategy.Policy = (*BuyAndHold)(nil)

// BuyAndHold asks to open a long on the first priced bar of each instrument
// and never acts again, whatever fills arrive.
type BuyAndHold struct {
	strategy.Base
	bought sync.Map // symbol → struct{}
}

// NewBuyAndHold creates a BuyAndHold policy.
func NewBuyAndHold(name string, confidence decimal.Decimal) (*BuyAndHold, error) {
	base, err := strategy.NewBase(name, confidence)
	if err != nil {
		return nil, err
	}
	return &BuyAndHold{Base: base}, nil
}

// OnBar implements strategy.Policy.
func (b *BuyAndHold) OnBar(_ context.Context, bar domain.Bar) ([]domain.Intention, error) {
	if !strategy.HasPrice(bar) {
		return nil, nil
	}
	if _, loaded := b.bought.LoadOrStore(bar.Symbol, struct{}{}); loaded {
		return nil, nil
	}
	in := b.Intention(bar, domain.DirectionOpenLong, "Buy and hold - initial purchase", map[string]string{
		"price": bar.Close.String(),
	})
	return []domain.Intention{in}, nil
}

// Reset re-arms the policy for every instrument.
func (b *BuyAndHold) Reset() {
	b.bought.Range(func(k, _ any) bool {
		b.bought.Delete(k)
		return true
	})
	b.Base.Reset()
}
