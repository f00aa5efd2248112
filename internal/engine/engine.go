// Package engine hosts a signal policy: it feeds each instrument's bars to
// the policy, turns the resulting intentions into orders, and delivers
// broker fills back before the next bar is evaluated.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"barwise/internal/adapter"
	"barwise/internal/broker"
	"barwise/internal/domain"
	"barwise/internal/position"
	"barwise/internal/store"
)

// Policy is what the engine drives. strategy.Policy satisfies it.
type Policy interface {
	Name() string
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Intention, error)
	OnFill(ctx context.Context, fill domain.Fill) error
}

type lifecycle interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// Publisher receives every emitted intention, e.g. to stream it to clients.
type Publisher interface {
	Publish(in domain.Intention)
}

// Recorder receives engine events for metrics.
type Recorder interface {
	BarProcessed(strategy, symbol string)
	BarSkipped(strategy, symbol, reason string)
	IntentionEmitted(in domain.Intention)
	FillApplied(strategy string, f domain.Fill, state domain.PositionState)
}

type nopRecorder struct{}

func (nopRecorder) BarProcessed(string, string)                          {}
func (nopRecorder) BarSkipped(string, string, string)                    {}
func (nopRecorder) IntentionEmitted(domain.Intention)                    {}
func (nopRecorder) FillApplied(string, domain.Fill, domain.PositionState) {}

// Engine runs a policy over per-instrument bar streams. Instruments run in
// parallel; bars of one instrument are processed strictly in order.
type Engine struct {
	broker    broker.Broker
	sizer     *Sizer
	journal   store.Journal
	publisher Publisher
	recorder  Recorder
	book      *position.Book
	parallel  int
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records intentions and fills.
func WithJournal(j store.Journal) Option { return func(e *Engine) { e.journal = j } }

// WithPublisher streams intentions.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithRecorder reports metrics.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithParallelism caps how many instruments run at once. n <= 0 means no cap.
func WithParallelism(n int) Option { return func(e *Engine) { e.parallel = n } }

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(b broker.Broker, sizer *Sizer, opts ...Option) *Engine {
	e := &Engine{
		broker:   b,
		sizer:    sizer,
		recorder: nopRecorder{},
		book:     position.NewBook(),
		log:      slog.Default().With("component", "engine"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Positions returns the engine's fill-driven view of every instrument.
func (e *Engine) Positions() map[string]domain.PositionState {
	return e.book.Snapshot()
}

// Result is what a Run produced.
type Result struct {
	Intentions []domain.Intention
	Fills      []domain.Fill
	Orders     int
	Bars       int
	Skipped    int
	Positions  map[string]domain.PositionState
}

// Run drives p over readers, one goroutine per instrument, until every
// reader is exhausted or ctx is done. A failing instrument cancels the rest.
func (e *Engine) Run(ctx context.Context, p Policy, readers map[string]adapter.BarReader) (*Result, error) {
	if lc, ok := p.(lifecycle); ok {
		if err := lc.Setup(ctx); err != nil {
			return nil, fmt.Errorf("setup %s: %w", p.Name(), err)
		}
		defer func() {
			if err := lc.Teardown(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn("teardown failed", "strategy", p.Name(), "error", err)
			}
		}()
	}

	var (
		mu  sync.Mutex
		res = &Result{}
	)
	g, gctx := errgroup.WithContext(ctx)
	if e.parallel > 0 {
		g.SetLimit(e.parallel)
	}

	symbols := make([]string, 0, len(readers))
	for s := range readers {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		r := readers[symbol]
		g.Go(func() error {
			defer r.Close()
			l := &lane{engine: e, policy: p, symbol: symbol}
			err := l.run(gctx, r)

			mu.Lock()
			res.Intentions = append(res.Intentions, l.intentions...)
			res.Fills = append(res.Fills, l.fills...)
			res.Orders += l.orders
			res.Bars += l.bars
			res.Skipped += l.skipped
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			return nil
		})
	}
	err := g.Wait()

	sort.SliceStable(res.Intentions, func(i, j int) bool {
		return res.Intentions[i].Timestamp.Before(res.Intentions[j].Timestamp)
	})
	sort.SliceStable(res.Fills, func(i, j int) bool {
		return res.Fills[i].Timestamp.Before(res.Fills[j].Timestamp)
	})
	res.Positions = e.book.Snapshot()
	return res, err
}

// lane is the state of one instrument within a Run. It is owned by a single
// goroutine.
type lane struct {
	engine *Engine
	policy Policy
	symbol string

	last time.Time
	held holding

	intentions []domain.Intention
	fills      []domain.Fill
	orders     int
	bars       int
	skipped    int
}

func (l *lane) run(ctx context.Context, r adapter.BarReader) error {
	e := l.engine
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		bar, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		// Fills confirmed since the previous bar are applied before the
		// policy sees this one.
		if err := l.deliverFills(ctx); err != nil {
			return err
		}

		if reason := l.validate(bar); reason != "" {
			l.skipped++
			e.recorder.BarSkipped(l.policy.Name(), l.symbol, reason)
			e.log.Warn("bar skipped", "symbol", l.symbol, "ts", bar.Timestamp, "reason", reason)
			continue
		}
		l.last = bar.Timestamp
		l.bars++
		e.recorder.BarProcessed(l.policy.Name(), l.symbol)

		intents, err := l.policy.OnBar(ctx, bar)
		if err != nil {
			e.log.Error("policy failed on bar", "strategy", l.policy.Name(), "symbol", l.symbol, "ts", bar.Timestamp, "error", err)
			continue
		}
		for _, in := range intents {
			if err := l.handle(ctx, in); err != nil {
				return err
			}
		}
	}
	if sc, ok := r.(adapter.SkipCounter); ok {
		if n := sc.Skipped(); n > 0 {
			l.skipped += n
			for range n {
				e.recorder.BarSkipped(l.policy.Name(), l.symbol, "malformed row")
			}
			e.log.Warn("malformed rows dropped by source", "symbol", l.symbol, "rows", n)
		}
	}
	return l.deliverFills(ctx)
}

func (l *lane) validate(bar domain.Bar) string {
	switch {
	case bar.Symbol != "" && bar.Symbol != l.symbol:
		return "symbol mismatch"
	case !l.last.IsZero() && !bar.Timestamp.After(l.last):
		return "timestamp not increasing"
	case bar.Volume < 0:
		return "negative volume"
	}
	return ""
}

func (l *lane) handle(ctx context.Context, in domain.Intention) error {
	e := l.engine
	l.intentions = append(l.intentions, in)
	e.recorder.IntentionEmitted(in)
	if e.journal != nil {
		if err := e.journal.SaveIntention(ctx, in); err != nil {
			return err
		}
	}
	if e.publisher != nil {
		e.publisher.Publish(in)
	}
	e.log.Info("intention",
		"strategy", in.StrategyID,
		"symbol", in.Symbol,
		"direction", in.Direction,
		"price", in.Price.String(),
		"reason", in.Reason,
	)

	order, err := e.sizer.Order(in, l.held.qty)
	if err != nil {
		e.log.Warn("intention not sized", "id", in.ID, "symbol", in.Symbol, "error", err)
		return nil
	}
	if _, err := e.broker.Submit(ctx, order); err != nil {
		e.log.Warn("order rejected", "id", order.ID, "symbol", order.Symbol, "error", err)
		return nil
	}
	l.orders++
	return nil
}

func (l *lane) deliverFills(ctx context.Context) error {
	e := l.engine
	fills, err := e.broker.Fills(ctx, l.symbol)
	if err != nil {
		return fmt.Errorf("fills: %w", err)
	}
	for _, f := range fills {
		if err := l.policy.OnFill(ctx, f); err != nil {
			return fmt.Errorf("on fill %s: %w", f.OrderID, err)
		}
		_, to := e.book.Apply(f)
		l.held.apply(f)
		l.fills = append(l.fills, f)
		e.recorder.FillApplied(l.policy.Name(), f, to)
		if e.journal != nil {
			if err := e.journal.SaveFill(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}
