package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"barwise/internal/calendar"
	"barwise/internal/config"
	"barwise/internal/domain"
	"barwise/internal/store"
	"barwise/internal/util"
)

var (
	_ Source = (*AlpacaSource)(nil)
	_ Cacher = (*AlpacaSource)(nil)
)

// barClient is the part of *marketdata.Client the source uses.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	CacheDir  string // enables the Parquet cache when set
	Settings  config.SourceSettings
}

// AlpacaSource reads daily bars from the Alpaca market-data API. With a
// cache directory it serves reads from the Parquet cache when the cache
// covers the request and implements the Cacher capability.
type AlpacaSource struct {
	symbol  string
	client  barClient
	cache   *store.ParquetStore
	cfg     settings
	feed    string
	limiter *util.RateLimiter
	now     func() time.Time
	log     *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource for symbol.
func NewAlpacaSource(opts AlpacaOptions, symbol string) (*AlpacaSource, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, fmt.Errorf("%w: alpaca source: api key and secret are required", config.ErrInvalid)
	}
	mdOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		mdOpts.BaseURL = opts.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(mdOpts), opts, symbol)
}

func newAlpacaSource(client barClient, opts AlpacaOptions, symbol string) (*AlpacaSource, error) {
	cfg, err := resolve(opts.Settings)
	if err != nil {
		return nil, err
	}
	feed := strings.ToLower(opts.Settings.Feed)
	switch feed {
	case "", "sip":
		feed = "sip"
	case "iex":
	default:
		return nil, fmt.Errorf("%w: alpaca source: unknown feed %q", config.ErrInvalid, opts.Settings.Feed)
	}

	s := &AlpacaSource{
		symbol:  strings.ToUpper(symbol),
		client:  client,
		cfg:     cfg,
		feed:    feed,
		limiter: util.NewRateLimiter(200),
		now:     time.Now,
		log:     slog.Default().With("adapter", "alpaca", "symbol", strings.ToUpper(symbol)),
	}
	if opts.CacheDir != "" {
		s.cache = store.NewParquetStore(opts.CacheDir, domain.Market(opts.Settings.Market))
	}
	return s, nil
}

// Symbol implements Source.
func (s *AlpacaSource) Symbol() string { return s.symbol }

// ReadBars serves [start, end] from the cache when the cached range covers
// it, otherwise from the API.
func (s *AlpacaSource) ReadBars(ctx context.Context, start, end time.Time) (BarReader, error) {
	if s.cache != nil {
		first, last, ok, err := s.cache.DateRange(ctx, s.symbol)
		if err != nil {
			return nil, err
		}
		// A zero start reads from the first cached bar.
		if ok && (start.IsZero() || !start.Before(dateOnly(first))) && (end.IsZero() || !dateOnly(end).After(dateOnly(last))) {
			bars, err := s.cache.ReadBars(ctx, s.symbol, start, end)
			if err != nil {
				return nil, err
			}
			return NewSliceReader(bars), nil
		}
	}
	bars, err := s.fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return NewSliceReader(bars), nil
}

// AvailableDateRange reports the cached range. Without a cache it is not
// known.
func (s *AlpacaSource) AvailableDateRange(ctx context.Context) (first, last time.Time, ok bool, err error) {
	if s.cache == nil {
		return first, last, false, nil
	}
	return s.cache.DateRange(ctx, s.symbol)
}

// PrimeCache fetches [start, end] and writes it to the cache.
func (s *AlpacaSource) PrimeCache(ctx context.Context, start, end time.Time) (int, error) {
	if s.cache == nil {
		return 0, fmt.Errorf("alpaca source %s: no cache directory: %w", s.symbol, ErrNotSupported)
	}
	bars, err := s.fetch(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if err := s.cache.WriteBars(ctx, bars); err != nil {
		return 0, err
	}
	s.log.Info("cache primed", "bars", len(bars), "start", start, "end", end)
	return len(bars), nil
}

// WriteCache stores bars in the cache.
func (s *AlpacaSource) WriteCache(ctx context.Context, bars []domain.Bar) error {
	if s.cache == nil {
		return fmt.Errorf("alpaca source %s: no cache directory: %w", s.symbol, ErrNotSupported)
	}
	return s.cache.WriteBars(ctx, bars)
}

// UpdateToLatest fetches from the weekday after the newest cached bar up to
// now. With dryRun the range is reported but nothing is fetched.
func (s *AlpacaSource) UpdateToLatest(ctx context.Context, dryRun bool) (UpdateResult, error) {
	if s.cache == nil {
		return UpdateResult{}, fmt.Errorf("alpaca source %s: no cache directory: %w", s.symbol, ErrNotSupported)
	}
	latest, ok, err := s.cache.LatestTimestamp(ctx, s.symbol)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ok {
		return UpdateResult{}, fmt.Errorf("alpaca source %s: cache is empty, prime it first: %w", s.symbol, ErrSourceNotFound)
	}
	res := UpdateResult{Start: calendar.NextTradingDay(dateOnly(latest)), End: s.now()}
	res.Sessions = len(calendar.TradingDays(res.Start, res.End))
	if res.Sessions == 0 || dryRun {
		return res, nil
	}
	bars, err := s.fetch(ctx, res.Start, res.End)
	if err != nil {
		return res, err
	}
	if err := s.cache.WriteBars(ctx, bars); err != nil {
		return res, err
	}
	res.Bars = len(bars)
	return res, nil
}

func (s *AlpacaSource) fetch(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "sip",
	}
	if s.feed == "iex" {
		req.Feed = "iex"
	}

	var raw []marketdata.Bar
	err := util.Retry(ctx, 3, time.Second, func() error {
		var err error
		raw, err = s.client.GetBars(s.symbol, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", s.symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    s.symbol,
			Timestamp: ab.Timestamp.In(s.cfg.loc),
			Open:      decimal.NewFromFloat(ab.Open).RoundBank(s.cfg.scale),
			High:      decimal.NewFromFloat(ab.High).RoundBank(s.cfg.scale),
			Low:       decimal.NewFromFloat(ab.Low).RoundBank(s.cfg.scale),
			Close:     decimal.NewFromFloat(ab.Close).RoundBank(s.cfg.scale),
			Volume:    int64(ab.Volume),
		})
	}
	return bars, nil
}
