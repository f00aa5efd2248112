package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/adapter"
	"barwise/internal/broker"
	"barwise/internal/domain"
	"barwise/internal/position"
)

var day0 = time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)

func bars(symbol string, closes ...int64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		p := decimal.NewFromInt(c)
		out[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      p, High: p, Low: p, Close: p,
			Volume: 100,
		}
	}
	return out
}

// scripted emits the direction scheduled for a bar index and records the
// position it saw at every bar.
type scripted struct {
	mu      sync.Mutex
	book    *position.Book
	plan    map[int]domain.Direction
	fail    map[int]bool
	idx     map[string]int
	seen    map[string][]domain.PositionState
	started bool
	stopped bool
}

func newScripted(plan map[int]domain.Direction) *scripted {
	return &scripted{
		book: position.NewBook(),
		plan: plan,
		fail: map[int]bool{},
		idx:  map[string]int{},
		seen: map[string][]domain.PositionState{},
	}
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Setup(context.Context) error    { s.started = true; return nil }
func (s *scripted) Teardown(context.Context) error { s.stopped = true; return nil }

func (s *scripted) OnBar(_ context.Context, bar domain.Bar) ([]domain.Intention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.idx[bar.Symbol]
	s.idx[bar.Symbol] = i + 1
	s.seen[bar.Symbol] = append(s.seen[bar.Symbol], s.book.State(bar.Symbol))
	if s.fail[i] {
		return nil, errors.New("boom")
	}
	dir, ok := s.plan[i]
	if !ok {
		return nil, nil
	}
	return []domain.Intention{{
		ID:         bar.Symbol + "-" + string(dir),
		StrategyID: s.Name(),
		Timestamp:  bar.Timestamp,
		Symbol:     bar.Symbol,
		Direction:  dir,
		Price:      bar.Close,
		Confidence: decimal.NewFromInt(1),
	}}, nil
}

func (s *scripted) OnFill(_ context.Context, f domain.Fill) error {
	s.book.Apply(f)
	return nil
}

func readers(series ...[]domain.Bar) map[string]adapter.BarReader {
	m := make(map[string]adapter.BarReader, len(series))
	for _, bs := range series {
		m[bs[0].Symbol] = adapter.NewSliceReader(bs)
	}
	return m
}

func TestEngineAppliesFillsBeforeNextBar(t *testing.T) {
	p := newScripted(map[int]domain.Direction{
		0: domain.DirectionOpenLong,
		2: domain.DirectionCloseLong,
	})
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 5))

	res, err := e.Run(context.Background(), p, readers(bars("AAPL", 10, 11, 12, 13)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.started || !p.stopped {
		t.Errorf("lifecycle: setup=%v teardown=%v", p.started, p.stopped)
	}

	want := []domain.PositionState{
		domain.PositionFlat, domain.PositionLong, domain.PositionLong, domain.PositionFlat,
	}
	got := p.seen["AAPL"]
	if len(got) != len(want) {
		t.Fatalf("seen %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d saw %s, want %s", i, got[i], want[i])
		}
	}

	if len(res.Intentions) != 2 || res.Orders != 2 || len(res.Fills) != 2 {
		t.Fatalf("intentions=%d orders=%d fills=%d", len(res.Intentions), res.Orders, len(res.Fills))
	}
	if !res.Fills[0].Qty.Equal(decimal.NewFromInt(5)) || !res.Fills[1].Qty.Equal(decimal.NewFromInt(5)) {
		t.Errorf("fill quantities %s, %s", res.Fills[0].Qty, res.Fills[1].Qty)
	}
	if !res.Fills[1].Price.Equal(decimal.NewFromInt(12)) {
		t.Errorf("close fill price %s, want 12", res.Fills[1].Price)
	}
	if res.Positions["AAPL"] != domain.PositionFlat {
		t.Errorf("final position %s", res.Positions["AAPL"])
	}
	if res.Bars != 4 || res.Skipped != 0 {
		t.Errorf("bars=%d skipped=%d", res.Bars, res.Skipped)
	}
}

func TestEngineFinalFillsDrained(t *testing.T) {
	p := newScripted(map[int]domain.Direction{2: domain.DirectionOpenLong})
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0))

	res, err := e.Run(context.Background(), p, readers(bars("MSFT", 1, 2, 3)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(res.Fills))
	}
	if p.book.State("MSFT") != domain.PositionLong {
		t.Errorf("policy position %s, want long", p.book.State("MSFT"))
	}
	if e.Positions()["MSFT"] != domain.PositionLong {
		t.Errorf("engine position %s, want long", e.Positions()["MSFT"])
	}
}

func TestEngineSkipsBadBars(t *testing.T) {
	bs := bars("AAPL", 10, 11, 12, 13)
	bs[2].Timestamp = bs[1].Timestamp
	bs[3].Volume = -1

	rec := &countingRecorder{}
	p := newScripted(nil)
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0), WithRecorder(rec))

	res, err := e.Run(context.Background(), p, readers(bs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Bars != 2 || res.Skipped != 2 {
		t.Errorf("bars=%d skipped=%d, want 2/2", res.Bars, res.Skipped)
	}
	if len(p.seen["AAPL"]) != 2 {
		t.Errorf("policy saw %d bars, want 2", len(p.seen["AAPL"]))
	}
	if rec.processed != 2 || rec.skipped != 2 {
		t.Errorf("recorder processed=%d skipped=%d", rec.processed, rec.skipped)
	}
}

func TestEnginePolicyErrorIsIsolated(t *testing.T) {
	p := newScripted(map[int]domain.Direction{2: domain.DirectionOpenLong})
	p.fail[1] = true
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0))

	res, err := e.Run(context.Background(), p, readers(bars("AAPL", 1, 2, 3)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Intentions) != 1 {
		t.Errorf("intentions = %d, want 1", len(res.Intentions))
	}
}

func TestEngineInstrumentsIndependent(t *testing.T) {
	p := newScripted(map[int]domain.Direction{1: domain.DirectionOpenLong})
	j := &memJournal{}
	pub := &memPublisher{}
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(1000, 0),
		WithJournal(j), WithPublisher(pub), WithParallelism(2))

	res, err := e.Run(context.Background(), p,
		readers(bars("AAPL", 10, 20, 30), bars("MSFT", 100, 300, 500), bars("TSLA", 7, 8)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Intentions) != 3 || len(res.Fills) != 3 {
		t.Fatalf("intentions=%d fills=%d", len(res.Intentions), len(res.Fills))
	}
	qty := map[string]string{}
	for _, f := range res.Fills {
		qty[f.Symbol] = f.Qty.String()
	}
	// floor(1000 / price), at least one
	if qty["AAPL"] != "50" || qty["MSFT"] != "3" || qty["TSLA"] != "125" {
		t.Errorf("quantities %v", qty)
	}
	for _, s := range []string{"AAPL", "MSFT", "TSLA"} {
		if res.Positions[s] != domain.PositionLong {
			t.Errorf("%s position %s", s, res.Positions[s])
		}
	}
	if len(j.intentions) != 3 || len(j.fills) != 3 {
		t.Errorf("journal intentions=%d fills=%d", len(j.intentions), len(j.fills))
	}
	if len(pub.got) != 3 {
		t.Errorf("published %d", len(pub.got))
	}
}

func TestEngineJournalFailureStopsRun(t *testing.T) {
	p := newScripted(map[int]domain.Direction{0: domain.DirectionOpenLong})
	j := &memJournal{err: errors.New("disk full")}
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0), WithJournal(j))

	_, err := e.Run(context.Background(), p, readers(bars("AAPL", 1, 2)))
	if err == nil || !errors.Is(err, j.err) {
		t.Fatalf("err = %v, want disk full", err)
	}
}

func TestEngineCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0))
	_, err := e.Run(ctx, newScripted(nil), readers(bars("AAPL", 1)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

// lossyReader reports rows its source dropped before they became bars.
type lossyReader struct {
	adapter.BarReader
	dropped int
}

func (r lossyReader) Skipped() int { return r.dropped }

func TestEngineCountsRowsDroppedBySource(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEngine(broker.NewSimulatorBroker(), NewSizer(0, 0), WithRecorder(rec))

	r := lossyReader{BarReader: adapter.NewSliceReader(bars("AAPL", 10, 11)), dropped: 3}
	res, err := e.Run(context.Background(), newScripted(nil), map[string]adapter.BarReader{"AAPL": r})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Bars != 2 || res.Skipped != 3 {
		t.Errorf("bars=%d skipped=%d, want 2/3", res.Bars, res.Skipped)
	}
	if rec.skipped != 3 {
		t.Errorf("recorder skipped=%d, want 3", rec.skipped)
	}
}

type countingRecorder struct {
	mu                 sync.Mutex
	processed, skipped int
}

func (r *countingRecorder) BarProcessed(string, string) {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

func (r *countingRecorder) BarSkipped(string, string, string) {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

func (r *countingRecorder) IntentionEmitted(domain.Intention)                    {}
func (r *countingRecorder) FillApplied(string, domain.Fill, domain.PositionState) {}

type memJournal struct {
	mu         sync.Mutex
	err        error
	intentions []domain.Intention
	fills      []domain.Fill
}

func (j *memJournal) SaveIntention(_ context.Context, in domain.Intention) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.intentions = append(j.intentions, in)
	return nil
}

func (j *memJournal) SaveFill(_ context.Context, f domain.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.fills = append(j.fills, f)
	return nil
}

type memPublisher struct {
	mu  sync.Mutex
	got []domain.Intention
}

func (p *memPublisher) Publish(in domain.Intention) {
	p.mu.Lock()
	p.got = append(p.got, in)
	p.mu.Unlock()
}

func TestSizerOrder(t *testing.T) {
	open := func(price string) domain.Intention {
		return domain.Intention{
			Symbol: "AAPL", Direction: domain.DirectionOpenLong,
			Price: decimal.RequireFromString(price), Timestamp: day0,
		}
	}
	closing := func(dir domain.Direction) domain.Intention {
		return domain.Intention{Symbol: "AAPL", Direction: dir, Price: decimal.NewFromInt(100), Timestamp: day0}
	}

	cases := []struct {
		name        string
		maxNotional float64
		defaultQty  float64
		in          domain.Intention
		held        int64
		wantQty     string
		wantSide    domain.Side
		wantErr     error
	}{
		{"fixed quantity", 0, 5, open("100"), 0, "5", domain.SideBuy, nil},
		{"fixed quantity over cap", 400, 5, open("100"), 0, "", "", ErrRiskLimit},
		{"notional floored", 1000, 0, open("300"), 0, "3", domain.SideBuy, nil},
		{"price above cap", 50, 0, open("100"), 0, "", "", ErrRiskLimit},
		{"price equals cap", 100, 0, open("100"), 0, "1", domain.SideBuy, nil},
		{"no sizing configured", 0, 0, open("100"), 0, "1", domain.SideBuy, nil},
		{"close long takes held", 0, 5, closing(domain.DirectionCloseLong), 7, "7", domain.SideSell, nil},
		{"close short takes held", 0, 5, closing(domain.DirectionCloseShort), -4, "4", domain.SideBuy, nil},
		{"close long while flat", 0, 5, closing(domain.DirectionCloseLong), 0, "", "", ErrNothingToClose},
		{"close short while long", 0, 5, closing(domain.DirectionCloseShort), 3, "", "", ErrNothingToClose},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			order, err := NewSizer(c.maxNotional, c.defaultQty).Order(c.in, decimal.NewFromInt(c.held))
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("err = %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.Qty.String() != c.wantQty || order.Side != c.wantSide {
				t.Errorf("order = %s %s, want %s %s", order.Side, order.Qty, c.wantSide, c.wantQty)
			}
		})
	}
}
