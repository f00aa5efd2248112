// Package strategy defines the Policy capability set for signal policies and
// provides a Registry for managing multiple policy implementations.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barwise/internal/domain"
	"barwise/internal/position"
)

// ErrInvalidConfig is wrapped by policy constructors on bad parameters.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Policy is the interface that all signal policies must implement.
type Policy interface {
	// Name returns the unique identifier for this policy.
	Name() string

	// Setup performs any one-time work before the first bar.
	Setup(ctx context.Context) error

	// OnBar is called for each bar of each instrument, in timestamp order
	// per instrument. It returns zero or more intentions and must not change
	// position state.
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Intention, error)

	// OnFill is called for every confirmed fill. It is the only path that
	// changes the policy's view of position state.
	OnFill(ctx context.Context, fill domain.Fill) error

	// Teardown is called once after the last bar.
	Teardown(ctx context.Context) error
}

// Observer receives diagnostic indicator readings. Nothing an Observer does
// feeds back into decisions.
type Observer interface {
	TrackIndicators(strategyID, symbol string, ts time.Time, samples []domain.IndicatorSample)
}

// Observable is implemented by policies that can report indicators.
type Observable interface {
	SetObserver(o Observer)
}

// Resetter is implemented by policies that can return to their initial
// state, e.g. between backtest runs.
type Resetter interface {
	Reset()
}

// ---------------------------------------------------------------------------
// Base
// ---------------------------------------------------------------------------

// Base carries what every builtin policy shares: identity, confidence, the
// fill-driven position book and an optional observer. Embed it and override
// what differs.
type Base struct {
	name       string
	confidence decimal.Decimal
	book       *position.Book
	observer   Observer
}

// NewBase validates confidence, which must be in (0, 1].
func NewBase(name string, confidence decimal.Decimal) (Base, error) {
	if name == "" {
		return Base{}, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if confidence.Sign() <= 0 || confidence.GreaterThan(decimal.NewFromInt(1)) {
		return Base{}, fmt.Errorf("%w: %s: confidence must be in (0, 1], got %s", ErrInvalidConfig, name, confidence)
	}
	return Base{name: name, confidence: confidence, book: position.NewBook()}, nil
}

// Name returns the policy name.
func (b *Base) Name() string { return b.name }

// Confidence returns the configured signal confidence.
func (b *Base) Confidence() decimal.Decimal { return b.confidence }

// Setup is a no-op.
func (b *Base) Setup(_ context.Context) error { return nil }

// Teardown is a no-op.
func (b *Base) Teardown(_ context.Context) error { return nil }

// OnFill applies the fill to the position book.
func (b *Base) OnFill(_ context.Context, fill domain.Fill) error {
	b.book.Apply(fill)
	return nil
}

// Position returns the fill-driven state for symbol.
func (b *Base) Position(symbol string) domain.PositionState {
	return b.book.State(symbol)
}

// IsLong reports whether symbol is currently held long.
func (b *Base) IsLong(symbol string) bool {
	return b.book.IsLong(symbol)
}

// Positions returns the state of every instrument that received a fill.
func (b *Base) Positions() map[string]domain.PositionState {
	return b.book.Snapshot()
}

// Reset clears the position book.
func (b *Base) Reset() { b.book.Reset() }

// SetObserver installs an indicator observer. Pass nil to disable.
func (b *Base) SetObserver(o Observer) { b.observer = o }

// Observer returns the installed observer, or nil.
func (b *Base) Observer() Observer { return b.observer }

// Track forwards samples to the observer, if any.
func (b *Base) Track(symbol string, ts time.Time, samples ...domain.IndicatorSample) {
	if b.observer == nil {
		return
	}
	b.observer.TrackIndicators(b.name, symbol, ts, samples)
}

// Intention builds an intention stamped with the bar's time, symbol and
// close as reference price.
func (b *Base) Intention(bar domain.Bar, dir domain.Direction, reason string, metadata map[string]string) domain.Intention {
	return domain.Intention{
		ID:         uuid.NewString(),
		StrategyID: b.name,
		Timestamp:  bar.Timestamp,
		Symbol:     bar.Symbol,
		Direction:  dir,
		Price:      bar.Close,
		Confidence: b.confidence,
		Reason:     reason,
		Metadata:   metadata,
	}
}

// HasPrice reports whether the bar carries a usable current price.
func HasPrice(bar domain.Bar) bool {
	return bar.Close.Sign() > 0
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

// LogObserver writes indicator samples to a slog logger at debug level.
type LogObserver struct {
	Log *slog.Logger
}

// TrackIndicators implements Observer.
func (o LogObserver) TrackIndicators(strategyID, symbol string, ts time.Time, samples []domain.IndicatorSample) {
	for _, s := range samples {
		o.Log.Debug("indicator",
			"strategy", strategyID,
			"symbol", symbol,
			"ts", ts,
			"name", s.Name,
			"display", s.DisplayName,
			"value", s.Value.String(),
		)
	}
}

// AddObserver attaches o to p alongside any observer p already has. It
// reports false when p cannot report indicators.
func AddObserver(p Policy, o Observer) bool {
	h, ok := p.(interface {
		Observable
		Observer() Observer
	})
	if !ok {
		return false
	}
	if cur := h.Observer(); cur != nil {
		h.SetObserver(MultiObserver{cur, o})
	} else {
		h.SetObserver(o)
	}
	return true
}

// MultiObserver fans samples out to several observers.
type MultiObserver []Observer

// TrackIndicators implements Observer.
func (m MultiObserver) TrackIndicators(strategyID, symbol string, ts time.Time, samples []domain.IndicatorSample) {
	for _, o := range m {
		o.TrackIndicators(strategyID, symbol, ts, samples)
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of policies for lookup and enumeration.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[string]Policy),
	}
}

// Register adds a policy to the registry, keyed by its Name().
func (r *Registry) Register(p Policy) {
	r.policies[p.Name()] = p
}

// Get retrieves a policy by name. The second return value indicates whether
// the policy was found.
func (r *Registry) Get(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// List returns a sorted slice of all registered policy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
