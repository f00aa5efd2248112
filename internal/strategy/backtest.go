package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/adapter"
	"barwise/internal/broker"
	"barwise/internal/domain"
	"barwise/internal/engine"
)

// BacktestResult holds what a backtest run produced.
type BacktestResult struct {
	Strategy    string
	Start, End  time.Time
	Bars        int
	Skipped     int
	Intentions  []domain.Intention
	Fills       []domain.Fill
	TotalTrades int
	Wins        int
	RealizedPnL decimal.Decimal
	WinRate     float64
	Final       map[string]domain.PositionState
}

// SourceOpener returns the bar source for one symbol.
type SourceOpener func(symbol string) (adapter.Source, error)

// Backtester replays historical bars through a registered policy using the
// simulator broker.
type Backtester struct {
	registry *Registry
	open     SourceOpener
	sizer    *engine.Sizer
	opts     []engine.Option
	log      *slog.Logger
}

// NewBacktester creates a Backtester that opens sources with open and looks
// up policies in registry. opts are passed to every engine it builds.
func NewBacktester(registry *Registry, open SourceOpener, sizer *engine.Sizer, opts ...engine.Option) *Backtester {
	if sizer == nil {
		sizer = engine.NewSizer(0, 0)
	}
	return &Backtester{
		registry: registry,
		open:     open,
		sizer:    sizer,
		opts:     opts,
		log:      slog.Default().With("component", "backtest"),
	}
}

// Run executes a backtest for the named strategy over the specified symbols
// and date range. A zero start or end leaves that side open. Policies that
// implement Resetter are reset first so runs do not leak into each other.
func (bt *Backtester) Run(ctx context.Context, name string, symbols []string, start, end time.Time) (*BacktestResult, error) {
	p, ok := bt.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: %s: no symbols", ErrInvalidConfig, name)
	}
	if r, ok := p.(Resetter); ok {
		r.Reset()
	}

	readers := make(map[string]adapter.BarReader, len(symbols))
	closeAll := func() {
		for _, r := range readers {
			r.Close()
		}
	}
	for _, sym := range symbols {
		src, err := bt.open(sym)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s: %w", sym, err)
		}
		r, err := src.ReadBars(ctx, start, end)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("read %s: %w", sym, err)
		}
		readers[src.Symbol()] = r
	}

	bt.log.Info("backtest started", "strategy", name, "symbols", len(symbols), "start", start, "end", end)
	eng := engine.NewEngine(broker.NewSimulatorBroker(), bt.sizer, bt.opts...)
	res, err := eng.Run(ctx, p, readers)
	if err != nil {
		return nil, err
	}

	out := &BacktestResult{
		Strategy:   name,
		Start:      start,
		End:        end,
		Bars:       res.Bars,
		Skipped:    res.Skipped,
		Intentions: res.Intentions,
		Fills:      res.Fills,
		Final:      res.Positions,
	}
	out.TotalTrades, out.Wins, out.RealizedPnL = Realized(res.Fills)
	if out.TotalTrades > 0 {
		out.WinRate = float64(out.Wins) / float64(out.TotalTrades)
	}
	bt.log.Info("backtest finished",
		"strategy", name,
		"bars", out.Bars,
		"intentions", len(out.Intentions),
		"trades", out.TotalTrades,
		"pnl", out.RealizedPnL.StringFixed(2),
	)
	return out, nil
}

// Realized walks fills per symbol with average-cost accounting and returns
// the number of closed round trips, how many of them made money, and the
// total realized profit. A round trip closes when the held quantity
// returns to zero or flips side.
func Realized(fills []domain.Fill) (trades, wins int, pnl decimal.Decimal) {
	bySymbol := make(map[string][]domain.Fill)
	for _, f := range fills {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, s := range symbols {
		var (
			held  decimal.Decimal // signed
			avg   decimal.Decimal
			round decimal.Decimal
		)
		for _, f := range bySymbol[s] {
			q := f.Qty
			if q.IsZero() {
				continue
			}
			if f.Side == domain.SideSell {
				q = q.Neg()
			}
			if held.IsZero() || held.Sign() == q.Sign() {
				total := held.Abs().Add(q.Abs())
				avg = avg.Mul(held.Abs()).Add(f.Price.Mul(q.Abs())).Div(total)
				held = held.Add(q)
				continue
			}

			closed := decimal.Min(q.Abs(), held.Abs())
			gain := f.Price.Sub(avg).Mul(closed)
			if held.IsNegative() {
				gain = gain.Neg()
			}
			round = round.Add(gain)
			pnl = pnl.Add(gain)

			prev := held
			held = held.Add(q)
			if held.IsZero() || held.Sign() != prev.Sign() {
				trades++
				if round.IsPositive() {
					wins++
				}
				round = decimal.Zero
				avg = f.Price
			}
		}
	}
	return trades, wins, pnl
}
