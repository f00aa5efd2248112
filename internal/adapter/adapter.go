// Package adapter turns external bar data (CSV files, the Parquet cache,
// the Alpaca market-data API) into per-instrument bar sequences.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "time/tzdata" // bar time zones must resolve without system tzdata

	"barwise/internal/config"
	"barwise/internal/domain"
)

var (
	// ErrNotSupported is wrapped when a source lacks a requested capability.
	ErrNotSupported = errors.New("not supported")

	// ErrSourceNotFound is wrapped when a source's backing data is absent.
	ErrSourceNotFound = errors.New("source not found")
)

// BarReader yields one instrument's bars, oldest first, and returns io.EOF
// after the last one.
type BarReader interface {
	Next() (domain.Bar, error)
	Close() error
}

// SkipCounter is implemented by readers that drop malformed records
// instead of failing.
type SkipCounter interface {
	Skipped() int
}

// Source reads one instrument's bars.
type Source interface {
	// Symbol returns the instrument this source reads.
	Symbol() string

	// ReadBars opens a forward-only pass over bars within [start, end]. A
	// zero bound leaves that side open.
	ReadBars(ctx context.Context, start, end time.Time) (BarReader, error)

	// AvailableDateRange returns the first and last bar dates. ok is false
	// when the source holds no readable bars.
	AvailableDateRange(ctx context.Context) (first, last time.Time, ok bool, err error)
}

// Cacher is implemented by sources that keep a local copy of remote data.
// Sources that cannot cache return an error wrapping ErrNotSupported.
type Cacher interface {
	// PrimeCache fetches [start, end] and stores it, returning the number of
	// bars written.
	PrimeCache(ctx context.Context, start, end time.Time) (int, error)

	// WriteCache stores bars as they are.
	WriteCache(ctx context.Context, bars []domain.Bar) error

	// UpdateToLatest fetches everything after the newest cached bar.
	UpdateToLatest(ctx context.Context, dryRun bool) (UpdateResult, error)
}

// UpdateResult describes an UpdateToLatest run.
type UpdateResult struct {
	Bars     int
	Sessions int // weekdays in [Start, End]
	Start    time.Time
	End      time.Time
}

// AsCacher returns src's caching capability, or an error wrapping
// ErrNotSupported.
func AsCacher(src Source) (Cacher, error) {
	c, ok := src.(Cacher)
	if !ok {
		return nil, fmt.Errorf("%s: caching: %w", src.Symbol(), ErrNotSupported)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

const (
	DefaultTimezone      = "America/New_York"
	DefaultAssetClass    = "equity"
	DefaultExchange      = "NASDAQ"
	DefaultPriceCurrency = "USD"
	DefaultPriceScale    = 2
)

// settings are SourceSettings with defaults applied and the zone resolved.
type settings struct {
	config.SourceSettings
	loc   *time.Location
	scale int32
}

func resolve(s config.SourceSettings) (settings, error) {
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	if s.AssetClass == "" {
		s.AssetClass = DefaultAssetClass
	}
	if s.Exchange == "" {
		s.Exchange = DefaultExchange
	}
	if s.PriceCurrency == "" {
		s.PriceCurrency = DefaultPriceCurrency
	}
	scale := DefaultPriceScale
	if s.PriceScale != nil {
		scale = *s.PriceScale
	}
	if scale < 0 {
		return settings{}, fmt.Errorf("%w: price_scale must be >= 0, got %d", config.ErrInvalid, scale)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return settings{}, fmt.Errorf("%w: timezone %q: %v", config.ErrInvalid, s.Timezone, err)
	}
	return settings{SourceSettings: s, loc: loc, scale: int32(scale)}, nil
}

// expandPath substitutes {root_path} and {symbol} in template.
func expandPath(template, root, symbol string) string {
	if strings.HasPrefix(root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, root[2:])
		}
	}
	r := strings.NewReplacer("{root_path}", root, "{symbol}", symbol)
	return filepath.Clean(r.Replace(template))
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Open builds the source named by ds for symbol.
func Open(cfg *config.Config, ds config.DataSource, symbol string) (Source, error) {
	switch strings.ToLower(ds.Adapter) {
	case "csv":
		return NewCSVSource(ds.Config, symbol)
	case "parquet":
		root := ds.Config.RootPath
		if root == "" {
			root = cfg.Storage.DataDir
		}
		return NewParquetSource(root, domain.Market(ds.Config.Market), symbol)
	case "alpaca":
		return NewAlpacaSource(AlpacaOptions{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			CacheDir:  cfg.Storage.DataDir,
			Settings:  ds.Config,
		}, symbol)
	default:
		return nil, fmt.Errorf("%w: data source %q: unknown adapter %q", config.ErrInvalid, ds.Name, ds.Adapter)
	}
}

// ---------------------------------------------------------------------------
// Readers
// ---------------------------------------------------------------------------

// sliceReader serves bars already in memory.
type sliceReader struct {
	bars []domain.Bar
	i    int
}

// NewSliceReader returns a BarReader over bars.
func NewSliceReader(bars []domain.Bar) BarReader {
	return &sliceReader{bars: bars}
}

func (r *sliceReader) Next() (domain.Bar, error) {
	if r.i >= len(r.bars) {
		return domain.Bar{}, io.EOF
	}
	b := r.bars[r.i]
	r.i++
	return b, nil
}

func (r *sliceReader) Close() error { return nil }

// ReadAll drains r and closes it.
func ReadAll(r BarReader) ([]domain.Bar, error) {
	defer r.Close()
	var out []domain.Bar
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}
