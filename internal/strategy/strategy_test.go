package strategy

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/domain"
)

// stubPolicy is a minimal Policy implementation used in registry tests.
type stubPolicy struct {
	Base
}

func newStub(t *testing.T, name string) *stubPolicy {
	t.Helper()
	b, err := NewBase(name, decimal.NewFromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	return &stubPolicy{Base: b}
}

func (s *stubPolicy) OnBar(_ context.Context, _ domain.Bar) ([]domain.Intention, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(newStub(t, "test-strategy"))

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered policy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned policy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered policy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(newStub(t, "beta"))
	r.Register(newStub(t, "alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestNewBaseValidation(t *testing.T) {
	cases := map[string]decimal.Decimal{
		"zero":     decimal.Zero,
		"negative": decimal.NewFromInt(-1),
		"above 1":  decimal.RequireFromString("1.5"),
	}
	for name, c := range cases {
		if _, err := NewBase("p", c); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error = %v, want ErrInvalidConfig", name, err)
		}
	}
	if _, err := NewBase("", decimal.NewFromInt(1)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty name: error = %v", err)
	}
}

func TestBaseIntentionDoesNotTouchPosition(t *testing.T) {
	p := newStub(t, "p")
	bar := domain.Bar{Symbol: "AAPL", Timestamp: time.Unix(0, 0), Close: decimal.NewFromInt(10)}

	a := p.Intention(bar, domain.DirectionOpenLong, "r", nil)
	b := p.Intention(bar, domain.DirectionOpenLong, "r", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("intention IDs %q, %q should be unique", a.ID, b.ID)
	}
	if a.StrategyID != "p" || !a.Price.Equal(bar.Close) || !a.Confidence.Equal(decimal.NewFromInt(1)) {
		t.Errorf("intention = %+v", a)
	}
	if p.Position("AAPL") != domain.PositionFlat {
		t.Error("building an intention must not change position")
	}

	if err := p.OnFill(context.Background(), domain.Fill{Symbol: "AAPL", Side: domain.SideBuy}); err != nil {
		t.Fatal(err)
	}
	if p.Position("AAPL") != domain.PositionLong {
		t.Errorf("position after buy fill = %s, want long", p.Position("AAPL"))
	}
	if got := p.Positions(); got["AAPL"] != domain.PositionLong {
		t.Errorf("Positions = %v", got)
	}
}

type countObserver struct{ n int }

func (c *countObserver) TrackIndicators(_, _ string, _ time.Time, s []domain.IndicatorSample) {
	c.n += len(s)
}

func TestObservers(t *testing.T) {
	p := newStub(t, "p")
	p.Track("AAPL", time.Now(), domain.IndicatorSample{Name: "x"}) // no observer installed

	a, b := &countObserver{}, &countObserver{}
	p.SetObserver(MultiObserver{a, b, LogObserver{Log: slog.New(slog.DiscardHandler)}})
	p.Track("AAPL", time.Now(), domain.IndicatorSample{Name: "x"}, domain.IndicatorSample{Name: "y"})
	if a.n != 2 || b.n != 2 {
		t.Errorf("observer counts = %d, %d, want 2, 2", a.n, b.n)
	}
}

func TestAddObserver(t *testing.T) {
	p := newStub(t, "p")
	a, b := &countObserver{}, &countObserver{}
	if !AddObserver(p, a) || !AddObserver(p, b) {
		t.Fatal("stub embeds Base and should accept observers")
	}
	p.Track("AAPL", time.Now(), domain.IndicatorSample{Name: "x"})
	if a.n != 1 || b.n != 1 {
		t.Errorf("observer counts = %d, %d, want 1, 1", a.n, b.n)
	}
}

func TestRealized(t *testing.T) {
	d := decimal.NewFromInt
	fill := func(sym string, side domain.Side, qty, px int64) domain.Fill {
		return domain.Fill{Symbol: sym, Side: side, Qty: d(qty), Price: d(px)}
	}
	fills := []domain.Fill{
		// scale in and out of a long: avg 11, +4 then +8
		fill("AAPL", domain.SideBuy, 1, 10),
		fill("AAPL", domain.SideBuy, 1, 12),
		fill("AAPL", domain.SideSell, 1, 15),
		fill("AAPL", domain.SideSell, 1, 19),
		// short round trip losing 3
		fill("MSFT", domain.SideSell, 1, 50),
		fill("MSFT", domain.SideBuy, 1, 53),
		// long flipped to short by one fill: +2, then the short stays open
		fill("TSLA", domain.SideBuy, 2, 5),
		fill("TSLA", domain.SideSell, 3, 6),
	}
	trades, wins, pnl := Realized(fills)
	if trades != 3 || wins != 2 {
		t.Errorf("trades=%d wins=%d, want 3/2", trades, wins)
	}
	if !pnl.Equal(d(11)) {
		t.Errorf("pnl = %s, want 11", pnl)
	}
}

func TestRealizedIgnoresEmptyFills(t *testing.T) {
	d := decimal.NewFromInt
	fills := []domain.Fill{
		{Symbol: "AAPL", Side: domain.SideBuy, Qty: decimal.Zero, Price: d(10)},
		{Symbol: "AAPL", Side: domain.SideBuy, Qty: d(2), Price: d(10)},
		{Symbol: "AAPL", Side: domain.SideSell, Qty: decimal.Zero, Price: d(30)},
		{Symbol: "AAPL", Side: domain.SideSell, Qty: d(2), Price: d(12)},
	}
	trades, wins, pnl := Realized(fills)
	if trades != 1 || wins != 1 || !pnl.Equal(d(4)) {
		t.Errorf("trades=%d wins=%d pnl=%s, want 1/1/4", trades, wins, pnl)
	}
}

func TestResetClearsPositions(t *testing.T) {
	p := newStub(t, "s")
	_ = p.OnFill(context.Background(), domain.Fill{Symbol: "AAPL", Side: domain.SideBuy, Qty: decimal.NewFromInt(1)})
	var r Resetter = p
	r.Reset()
	if p.Position("AAPL") != domain.PositionFlat {
		t.Errorf("position after reset = %s", p.Position("AAPL"))
	}
}
