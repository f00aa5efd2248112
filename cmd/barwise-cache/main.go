package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"barwise/internal/adapter"
	"barwise/internal/calendar"
	"barwise/internal/config"
	"barwise/internal/domain"
	"barwise/internal/store"
	"barwise/internal/util"
)

func main() {
	sourceName := flag.String("source", "", "data source name (default: backtest.source)")
	symbolList := flag.String("symbols", "", "comma-separated symbols (default: backtest.symbols)")
	symbolsFile := flag.String("symbols-file", "", "CSV file whose first column lists symbols")
	startFlag := flag.String("start", "", "prime from this date, YYYY-MM-DD")
	endFlag := flag.String("end", "", "prime up to this date, YYYY-MM-DD (default: latest finished session)")
	update := flag.Bool("update", false, "fetch from the newest cached bar up to now instead of priming a range")
	dryRun := flag.Bool("dry-run", false, "with -update, report the range without fetching")
	retryEmpty := flag.Bool("retry-empty", false, "also fetch symbols that returned no bars on an earlier run")
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

	name := *sourceName
	if name == "" {
		name = cfg.Backtest.Source
	}
	ds, ok := cfg.Source(name)
	if !ok {
		log.Fatalf("data source %q is not configured", name)
	}

	symbols := cfg.Backtest.Symbols
	if *symbolList != "" {
		symbols = nil
		for _, s := range strings.Split(*symbolList, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	} else if *symbolsFile != "" {
		if symbols, err = config.LoadSymbols(*symbolsFile); err != nil {
			log.Fatalf("symbols file: %v", err)
		}
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols: set -symbols or backtest.symbols")
	}

	var start, end time.Time
	if !*update {
		if start, err = time.Parse("2006-01-02", *startFlag); err != nil {
			log.Fatalf("-start is required when priming: %v", err)
		}
		if *endFlag == "" {
			end = calendar.LatestFinishedSession(time.Now(), sourceLocation(ds))
		} else {
			if end, err = time.Parse("2006-01-02", *endFlag); err != nil {
				log.Fatalf("end: %v", err)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	progress, err := store.OpenCacheProgress(store.NewParquetStore(cfg.Storage.DataDir, domain.Market(ds.Config.Market)))
	if err != nil {
		log.Fatalf("opening cache progress: %v", err)
	}
	defer progress.Close()
	if *retryEmpty {
		if err := progress.Reset(); err != nil {
			log.Fatalf("resetting cache progress: %v", err)
		}
	}
	if last := progress.LastCompleted(); last != "" {
		slog.Info("previous cache run", "completed", last)
	}

	failed, skipped := 0, 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		if progress.IsTriedEmpty(sym) {
			skipped++
			continue
		}
		n, err := cacheOne(ctx, cfg, ds, sym, *update, *dryRun, start, end)
		if err == nil && n == 0 && !*update {
			if err := progress.MarkEmpty(sym); err != nil {
				slog.Warn("recording empty symbol", "symbol", sym, "error", err)
			}
		}
		if err != nil {
			failed++
			if errors.Is(err, adapter.ErrNotSupported) {
				slog.Warn("source cannot cache", "source", ds.Name, "symbol", sym, "error", err)
				continue
			}
			slog.Error("caching failed", "source", ds.Name, "symbol", sym, "error", err)
		}
	}
	slog.Info("cache run complete", "symbols", len(symbols), "failed", failed, "skippedEmpty", skipped)
	if failed > 0 || ctx.Err() != nil {
		progress.Close()
		os.Exit(1)
	}
	if !*dryRun {
		if err := progress.MarkCompleted(time.Now().Format("2006-01-02")); err != nil {
			slog.Warn("recording completion", "error", err)
		}
	}
}

func sourceLocation(ds config.DataSource) *time.Location {
	tz := ds.Config.Timezone
	if tz == "" {
		tz = adapter.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// cacheOne primes or updates one symbol and returns the bar count.
func cacheOne(ctx context.Context, cfg *config.Config, ds config.DataSource, symbol string, update, dryRun bool, start, end time.Time) (int, error) {
	src, err := adapter.Open(cfg, ds, symbol)
	if err != nil {
		return 0, err
	}
	c, err := adapter.AsCacher(src)
	if err != nil {
		return 0, err
	}

	if update {
		res, err := c.UpdateToLatest(ctx, dryRun)
		if err != nil {
			return 0, err
		}
		slog.Info("cache updated", "symbol", symbol, "bars", res.Bars, "sessions", res.Sessions, "from", res.Start, "to", res.End, "dryRun", dryRun)
		return res.Bars, nil
	}
	n, err := c.PrimeCache(ctx, start, end)
	if err != nil {
		return 0, err
	}
	slog.Info("cache primed", "symbol", symbol, "bars", n)
	return n, nil
}
