package builtins

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/config"
	"barwise/internal/domain"
	"barwise/internal/strategy"
)

var one = decimal.NewFromInt(1)

// dailyBars returns one bar per close on consecutive calendar days starting
// at start.
func dailyBars(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      px,
			High:      px,
			Low:       px,
			Close:     px,
			Volume:    1000,
		}
	}
	return bars
}

// run feeds bars one at a time and returns the intentions per bar index.
func run(t *testing.T, p strategy.Policy, bars []domain.Bar) map[int][]domain.Intention {
	t.Helper()
	ctx := context.Background()
	out := make(map[int][]domain.Intention)
	for i, b := range bars {
		got, err := p.OnBar(ctx, b)
		if err != nil {
			t.Fatalf("OnBar(%d) error: %v", i, err)
		}
		if len(got) > 0 {
			out[i] = got
		}
	}
	return out
}

func fillFor(in domain.Intention) domain.Fill {
	return domain.Fill{
		OrderID:   "o-" + in.ID,
		Symbol:    in.Symbol,
		Side:      in.Direction.Side(),
		Qty:       one,
		Price:     in.Price,
		Timestamp: in.Timestamp,
	}
}

var monday = time.Date(2024, 11, 4, 16, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Single shot
// ---------------------------------------------------------------------------

func TestBuyAndHold_SingleIntention(t *testing.T) {
	p, err := NewBuyAndHold("bh", one)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	bars := dailyBars("AAPL", monday, 100, 101, 102)

	var emitted []int
	for i, b := range bars {
		got, err := p.OnBar(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		for _, in := range got {
			emitted = append(emitted, i)
			if in.Direction != domain.DirectionOpenLong {
				t.Errorf("direction = %s, want open_long", in.Direction)
			}
			if in.Reason != "Buy and hold - initial purchase" {
				t.Errorf("reason = %q", in.Reason)
			}
			if in.Metadata["price"] != "100" {
				t.Errorf("metadata price = %q", in.Metadata["price"])
			}
			// A round trip of fills must not re-arm the policy.
			_ = p.OnFill(ctx, fillFor(in))
			in.Direction = domain.DirectionCloseLong
			_ = p.OnFill(ctx, fillFor(in))
		}
	}
	if len(emitted) != 1 || emitted[0] != 0 {
		t.Errorf("intentions at %v, want exactly [0]", emitted)
	}
}

func TestBuyAndHold_PerInstrument(t *testing.T) {
	p, _ := NewBuyAndHold("bh", one)
	got := run(t, p, append(dailyBars("AAPL", monday, 1, 2), dailyBars("MSFT", monday, 3, 4)...))
	if len(got) != 2 || got[0] == nil || got[2] == nil {
		t.Errorf("intentions = %v, want first bar of each instrument", got)
	}
}

func TestBuyAndHold_SkipsMissingPrice(t *testing.T) {
	p, _ := NewBuyAndHold("bh", one)
	bars := dailyBars("AAPL", monday, 0, 50)
	got := run(t, p, bars)
	if len(got) != 1 || got[1] == nil {
		t.Errorf("intentions = %v, want one at index 1", got)
	}
}

// ---------------------------------------------------------------------------
// Trend follower
// ---------------------------------------------------------------------------

func TestSMACross_Scenario(t *testing.T) {
	p, err := NewSMACross("sma", 2, 3, one)
	if err != nil {
		t.Fatal(err)
	}

	// Within the first seven bars the trailing 2-bar mean never strictly
	// exceeds the trailing 3-bar mean after having been at or below it.
	seven := dailyBars("AAPL", monday, 10, 10, 10, 10, 9, 11, 11)
	if got := run(t, p, seven); len(got) != 0 {
		t.Fatalf("intentions over first seven bars = %v, want none", got)
	}

	// The eighth bar is decided on means ending at bar 6 (fast 11 > slow 31/3)
	// and bar 5 (fast 10 <= slow 10).
	eighth := dailyBars("AAPL", monday.AddDate(0, 0, 7), 12)[0]
	got, err := p.OnBar(context.Background(), eighth)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("intentions on eighth bar = %d, want 1", len(got))
	}
	in := got[0]
	if in.Direction != domain.DirectionOpenLong {
		t.Errorf("direction = %s, want open_long", in.Direction)
	}
	if in.Metadata["crossover_type"] != "golden" {
		t.Errorf("crossover_type = %q", in.Metadata["crossover_type"])
	}
	if in.Metadata["fast_sma"] != "11" || in.Metadata["prev_fast_sma"] != "10" || in.Metadata["prev_slow_sma"] != "10" {
		t.Errorf("metadata = %v", in.Metadata)
	}
	if in.Reason != "Golden cross: fast SMA (11.00) > slow SMA (10.33)" {
		t.Errorf("reason = %q", in.Reason)
	}
	if !in.Price.Equal(decimal.NewFromInt(12)) || !in.Timestamp.Equal(eighth.Timestamp) {
		t.Errorf("intention stamped %s @ %s", in.Price, in.Timestamp)
	}
}

func TestSMACross_DecisionExcludesCurrentBar(t *testing.T) {
	p, _ := NewSMACross("sma", 2, 3, one)
	// Flat at 10, then a jump on bar 4. A policy that looked at bar 4 would
	// cross on bar 4; the decision on bar 4 must not.
	bars := dailyBars("AAPL", monday, 10, 10, 10, 10, 20, 20)
	got := run(t, p, bars)
	if got[4] != nil {
		t.Fatalf("intention on the jump bar: %v", got[4])
	}
	if got[5] == nil || got[5][0].Direction != domain.DirectionOpenLong {
		t.Fatalf("want open_long on the bar after the jump, got %v", got)
	}
}

func TestSMACross_InsufficientHistory(t *testing.T) {
	p, _ := NewSMACross("sma", 2, 3, one)
	// A cross that would be visible after three bars needs slow+1 bars of
	// history before it can be acted on.
	bars := dailyBars("AAPL", monday, 5, 5, 20)
	if got := run(t, p, bars); len(got) != 0 {
		t.Errorf("intentions = %v, want none during warm-up", got)
	}
}

func TestSMACross_DeathCrossNeedsLong(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 20, 20, 20, 1, 1, 1}

	// Never filled: the golden cross asks to open, the death cross is ignored.
	p, _ := NewSMACross("sma", 2, 3, one)
	got := run(t, p, dailyBars("AAPL", monday, closes...))
	if len(got) != 1 || got[5] == nil {
		t.Fatalf("unfilled intentions = %v, want only the open at 5", got)
	}

	// Filled on the open: the death cross asks to close.
	p, _ = NewSMACross("sma", 2, 3, one)
	ctx := context.Background()
	var dirs []domain.Direction
	for _, b := range dailyBars("AAPL", monday, closes...) {
		out, err := p.OnBar(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		for _, in := range out {
			dirs = append(dirs, in.Direction)
			if err := p.OnFill(ctx, fillFor(in)); err != nil {
				t.Fatal(err)
			}
		}
	}
	want := []domain.Direction{domain.DirectionOpenLong, domain.DirectionCloseLong}
	if len(dirs) != 2 || dirs[0] != want[0] || dirs[1] != want[1] {
		t.Errorf("directions = %v, want %v", dirs, want)
	}
	if p.Position("AAPL") != domain.PositionFlat {
		t.Errorf("position = %s, want flat", p.Position("AAPL"))
	}
}

func TestSMACross_NoRepeatOpenWhileLong(t *testing.T) {
	p, _ := NewSMACross("sma", 2, 3, one)
	_ = p.OnFill(context.Background(), domain.Fill{Symbol: "AAPL", Side: domain.SideBuy, Qty: one, Price: one})
	got := run(t, p, dailyBars("AAPL", monday, 10, 10, 10, 10, 20, 20))
	if len(got) != 0 {
		t.Errorf("intentions while long = %v, want none", got)
	}
}

func TestSMACross_MissingPriceDoesNotAdvance(t *testing.T) {
	a, _ := NewSMACross("sma", 2, 3, one)
	b, _ := NewSMACross("sma", 2, 3, one)
	withGap := dailyBars("AAPL", monday, 10, 10, 0, 10, 10, 20, 20)
	without := append(append([]domain.Bar{}, withGap[:2]...), withGap[3:]...)

	ga := run(t, a, withGap)
	gb := run(t, b, without)
	if len(ga) != 1 || len(gb) != 1 || ga[6] == nil || gb[5] == nil {
		t.Errorf("with gap = %v, without = %v", ga, gb)
	}
}

func TestSMACross_InstrumentsIsolated(t *testing.T) {
	p, _ := NewSMACross("sma", 2, 3, one)
	rising := dailyBars("UP", monday, 10, 10, 10, 10, 20, 20)
	flat := dailyBars("FLAT", monday, 10, 10, 10, 10, 10, 10)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for _, series := range [][]domain.Bar{rising, flat} {
		wg.Add(1)
		go func(bars []domain.Bar) {
			defer wg.Done()
			for _, b := range bars {
				out, _ := p.OnBar(context.Background(), b)
				mu.Lock()
				seen[b.Symbol] += len(out)
				mu.Unlock()
			}
		}(series)
	}
	wg.Wait()
	if seen["UP"] != 1 || seen["FLAT"] != 0 {
		t.Errorf("per-instrument intentions = %v", seen)
	}
}

type recorder struct {
	mu      sync.Mutex
	samples []domain.IndicatorSample
}

func (r *recorder) TrackIndicators(_, _ string, _ time.Time, s []domain.IndicatorSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s...)
	r.mu.Unlock()
}

func TestSMACross_ReportsIndicators(t *testing.T) {
	p, _ := NewSMACross("sma", 2, 3, one)
	rec := &recorder{}
	p.SetObserver(rec)
	run(t, p, dailyBars("AAPL", monday, 1, 2, 3, 4))

	// Both averages are ready from the third bar on.
	if len(rec.samples) != 4 {
		t.Fatalf("samples = %d, want 4", len(rec.samples))
	}
	s := rec.samples[0]
	if s.DisplayName != "SMA(2)" || s.Placement != "overlay" || s.Color != "#667eea" {
		t.Errorf("fast sample = %+v", s)
	}
	if rec.samples[1].DisplayName != "SMA(3)" || rec.samples[1].Color != "#764ba2" {
		t.Errorf("slow sample = %+v", rec.samples[1])
	}
	if !rec.samples[2].Value.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("fast SMA at bar 3 = %s, want 3.5", rec.samples[2].Value)
	}
}

func TestNewSMACross_Validation(t *testing.T) {
	cases := []struct {
		name       string
		fast, slow int
		confidence decimal.Decimal
	}{
		{"zero fast", 0, 3, one},
		{"fast equals slow", 3, 3, one},
		{"fast above slow", 5, 3, one},
		{"zero confidence", 2, 3, decimal.Zero},
		{"confidence above one", 2, 3, decimal.RequireFromString("1.01")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSMACross("sma", tc.fast, tc.slow, tc.confidence); !errors.Is(err, strategy.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Calendar timed
// ---------------------------------------------------------------------------

func TestWeekly_MondayToFriday(t *testing.T) {
	p, err := NewWeeklyMondayFriday("weekly", one)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	bars := dailyBars("AAPL", monday, 100, 101, 102, 103, 104)

	got := make(map[time.Weekday][]domain.Intention)
	for _, b := range bars {
		out, err := p.OnBar(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		got[b.Timestamp.Weekday()] = out
		for _, in := range out {
			if err := p.OnFill(ctx, fillFor(in)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if len(got[time.Monday]) != 1 || got[time.Monday][0].Direction != domain.DirectionOpenLong {
		t.Errorf("Monday = %v, want one open_long", got[time.Monday])
	}
	for _, d := range []time.Weekday{time.Tuesday, time.Wednesday, time.Thursday} {
		if len(got[d]) != 0 {
			t.Errorf("%s = %v, want none", d, got[d])
		}
	}
	if len(got[time.Friday]) != 1 || got[time.Friday][0].Direction != domain.DirectionCloseLong {
		t.Errorf("Friday = %v, want one close_long", got[time.Friday])
	}

	mon := got[time.Monday][0]
	if mon.Reason != "Monday entry - Week 2024-W45" {
		t.Errorf("reason = %q", mon.Reason)
	}
	if mon.Metadata["weekday"] != "Monday" || mon.Metadata["week"] != "2024-W45" || mon.Metadata["strategy"] != "weekly_monday_friday" {
		t.Errorf("metadata = %v", mon.Metadata)
	}
	if p.Position("AAPL") != domain.PositionFlat {
		t.Errorf("position after Friday fill = %s, want flat", p.Position("AAPL"))
	}
}

func TestWeekly_FridayWithoutFillIsNoop(t *testing.T) {
	p, _ := NewWeeklyMondayFriday("weekly", one)
	// Monday's intention is never filled, so Friday has nothing to close.
	got := run(t, p, dailyBars("AAPL", monday, 100, 101, 102, 103, 104))
	if len(got) != 1 || got[0] == nil {
		t.Errorf("intentions = %v, want only Monday", got)
	}
}

func TestWeekly_OneEntryPerWeek(t *testing.T) {
	p, _ := NewWeeklyMondayFriday("weekly", one)
	// Two Monday bars in the same week (intraday) open once.
	bars := []domain.Bar{
		dailyBars("AAPL", monday, 100)[0],
		dailyBars("AAPL", monday.Add(time.Hour), 101)[0],
	}
	if got := run(t, p, bars); len(got) != 1 {
		t.Errorf("intentions = %v, want one", got)
	}
	// The following Monday opens again.
	next := dailyBars("AAPL", monday.AddDate(0, 0, 7), 102)
	if got := run(t, p, next); len(got) != 1 {
		t.Errorf("next week intentions = %v, want one", got)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewFromConfig(t *testing.T) {
	p, err := New(config.StrategyConfig{Name: "trend", Kind: KindSMACrossover}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sma, ok := p.(*SMACross)
	if !ok {
		t.Fatalf("New returned %T", p)
	}
	if fast, slow := sma.Periods(); fast != DefaultFastPeriod || slow != DefaultSlowPeriod {
		t.Errorf("periods = %d/%d", fast, slow)
	}
	if !sma.Confidence().Equal(one) {
		t.Errorf("confidence = %s, want 1", sma.Confidence())
	}
	if p.Name() != "trend" {
		t.Errorf("Name = %q", p.Name())
	}

	for _, kind := range Kinds() {
		if _, err := New(config.StrategyConfig{Kind: kind, FastPeriod: 2, SlowPeriod: 3}, nil); err != nil {
			t.Errorf("New(%s) error: %v", kind, err)
		}
	}
}

func TestNewFromConfig_Invalid(t *testing.T) {
	cases := []config.StrategyConfig{
		{Name: "x", Kind: "martingale"},
		{Name: "x", Kind: KindSMACrossover, FastPeriod: 50, SlowPeriod: 10},
		{Name: "x", Kind: KindBuyAndHold, Confidence: 2},
	}
	for _, sc := range cases {
		if _, err := New(sc, nil); !errors.Is(err, strategy.ErrInvalidConfig) {
			t.Errorf("New(%+v) error = %v, want ErrInvalidConfig", sc, err)
		}
	}

	r := strategy.NewRegistry()
	err := RegisterAll(r, append(cases, config.StrategyConfig{Name: "ok", Kind: KindBuyAndHold}), nil)
	if !errors.Is(err, strategy.ErrInvalidConfig) {
		t.Errorf("RegisterAll error = %v", err)
	}
	if names := r.List(); len(names) != 1 || names[0] != "ok" {
		t.Errorf("registered = %v, want [ok]", names)
	}
}
