package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"barwise/internal/adapter"
	"barwise/internal/api"
	"barwise/internal/broker"
	"barwise/internal/config"
	"barwise/internal/domain"
	"barwise/internal/engine"
	"barwise/internal/metrics"
	"barwise/internal/store"
	"barwise/internal/strategy"
	"barwise/internal/strategy/builtins"
	"barwise/internal/util"
)

func main() {
	strategyName := flag.String("strategy", "", "strategy to run (default: backtest.strategy)")
	sourceName := flag.String("source", "", "data source to replay (default: backtest.source)")
	startFlag := flag.String("start", "", "replay from this date, YYYY-MM-DD")
	flag.Parse()

	_ = godotenv.Load() // best-effort

	cfgPath := "config/barwise.yaml"
	if p := os.Getenv("BARWISE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(util.LogOptions{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	util.SetDefault(logger)

	name := *strategyName
	if name == "" {
		name = cfg.Backtest.Strategy
	}
	sc, ok := cfg.Strategy(name)
	if !ok {
		log.Fatalf("strategy %q is not configured", name)
	}
	srcName := *sourceName
	if srcName == "" {
		srcName = cfg.Backtest.Source
	}
	ds, ok := cfg.Source(srcName)
	if !ok {
		log.Fatalf("data source %q is not configured", srcName)
	}
	var start time.Time
	if *startFlag != "" {
		if start, err = time.Parse("2006-01-02", *startFlag); err != nil {
			log.Fatalf("start: %v", err)
		}
	}

	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Storage.DataDir, "barwise.db")
	}
	journal, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer journal.Close()

	reg := strategy.NewRegistry()
	if err := builtins.RegisterAll(reg, cfg.Strategies, logger); err != nil {
		log.Fatalf("building strategies: %v", err)
	}
	policy, _ := reg.Get(sc.Name)

	m := metrics.NewMetrics()
	strategy.AddObserver(policy, m)

	var b broker.Broker = broker.NewSimulatorBroker()
	if !cfg.Trading.PaperMode {
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}

	hub := api.NewHub(0, logger)
	eng := engine.NewEngine(b, engine.SizerFromConfig(cfg.Trading),
		engine.WithJournal(journal),
		engine.WithPublisher(hub),
		engine.WithRecorder(m),
		engine.WithParallelism(cfg.Backtest.Parallelism),
		engine.WithLogger(logger.With("component", "engine")),
	)

	deps := api.Deps{
		Journal:    journal,
		Bars:       store.NewParquetStore(cfg.Storage.DataDir, domain.Market(ds.Config.Market)),
		Positions:  eng,
		Strategies: reg.List,
		Hub:        hub,
	}
	if cfg.Server.MetricsAddr != "" {
		srv := m.Serve(cfg.Server.MetricsAddr, logger)
		defer srv.Close()
	} else {
		deps.Metrics = m.Handler()
	}
	server := api.NewServer(cfg, deps, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error {
		readers := make(map[string]adapter.BarReader, len(sc.Universe))
		for _, sym := range sc.Universe {
			src, err := adapter.Open(cfg, ds, sym)
			if err != nil {
				slog.Error("opening source", "symbol", sym, "error", err)
				continue
			}
			r, err := src.ReadBars(gctx, start, time.Time{})
			if err != nil {
				slog.Error("reading bars", "symbol", sym, "error", err)
				continue
			}
			readers[src.Symbol()] = r
		}
		res, err := eng.Run(gctx, policy, readers)
		if err != nil {
			return err
		}
		slog.Info("replay finished",
			"strategy", policy.Name(),
			"bars", res.Bars,
			"intentions", len(res.Intentions),
			"fills", len(res.Fills),
		)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("server error: %v", err)
	}
}
