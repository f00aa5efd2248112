package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"barwise/internal/adapter"
	"barwise/internal/config"
	"barwise/internal/engine"
	"barwise/internal/store"
	"barwise/internal/strategy"
	"barwise/internal/strategy/builtins"
	"barwise/internal/util"
)

func main() {
	strategyName := flag.String("strategy", "", "strategy name (default: backtest.strategy)")
	sourceName := flag.String("source", "", "data source name (default: backtest.source)")
	symbolList := flag.String("symbols", "", "comma-separated symbols (default: backtest.symbols, then the strategy universe)")
	symbolsFile := flag.String("symbols-file", "", "CSV file whose first column lists symbols")
	startFlag := flag.String("start", "", "first date, YYYY-MM-DD (default: backtest.start)")
	endFlag := flag.String("end", "", "last date, YYYY-MM-DD (default: backtest.end)")
	journal := flag.Bool("journal", false, "record intentions and fills in the SQLite journal")
	verbose := flag.Bool("v", false, "list every intention")
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

	logger := util.NewLogger(util.LogOptions{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	util.SetDefault(logger)

	bc := cfg.Backtest
	name := pick(*strategyName, bc.Strategy)
	if name == "" {
		log.Fatal("no strategy: set -strategy or backtest.strategy")
	}
	sc, ok := cfg.Strategy(name)
	if !ok {
		log.Fatalf("strategy %q is not configured", name)
	}
	ds, ok := cfg.Source(pick(*sourceName, bc.Source))
	if !ok {
		log.Fatalf("data source %q is not configured", pick(*sourceName, bc.Source))
	}

	symbols := bc.Symbols
	if *symbolList != "" {
		symbols = splitSymbols(*symbolList)
	} else if *symbolsFile != "" {
		if symbols, err = config.LoadSymbols(*symbolsFile); err != nil {
			log.Fatalf("symbols file: %v", err)
		}
	}
	if len(symbols) == 0 {
		symbols = sc.Universe
	}
	start, err := parseDate(pick(*startFlag, bc.Start))
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	end, err := parseDate(pick(*endFlag, bc.End))
	if err != nil {
		log.Fatalf("end: %v", err)
	}

	reg := strategy.NewRegistry()
	if err := builtins.RegisterAll(reg, []config.StrategyConfig{sc}, logger); err != nil {
		log.Fatalf("building strategy: %v", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithParallelism(bc.Parallelism),
	}
	if *journal {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening journal: %v", err)
		}
		defer db.Close()
		opts = append(opts, engine.WithJournal(db))
	}

	open := func(symbol string) (adapter.Source, error) {
		return adapter.Open(cfg, ds, symbol)
	}
	bt := strategy.NewBacktester(reg, open, engine.SizerFromConfig(cfg.Trading), opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := bt.Run(ctx, name, symbols, start, end)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	fmt.Print(renderSummary(res, ds.Name, *verbose))
}

func pick(flagValue, cfgValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return cfgValue
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
