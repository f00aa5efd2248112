package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barwise/internal/domain"
	"barwise/internal/store"
)

var (
	_ Source = (*ParquetSource)(nil)
	_ Cacher = (*ParquetSource)(nil)
)

// ParquetSource reads one symbol's bars from a ParquetStore. It is the
// cache itself, so it can be written to but has nothing to prime from.
type ParquetSource struct {
	symbol string
	store  *store.ParquetStore
}

// NewParquetSource opens symbol under dataDir/market. The symbol must have
// at least one stored year.
func NewParquetSource(dataDir string, market domain.Market, symbol string) (*ParquetSource, error) {
	symbol = strings.ToUpper(symbol)
	ps := store.NewParquetStore(dataDir, market)
	syms, err := ps.ListSymbols(context.Background())
	if err != nil {
		return nil, err
	}
	for _, s := range syms {
		if s == symbol {
			return &ParquetSource{symbol: symbol, store: ps}, nil
		}
	}
	return nil, fmt.Errorf("%w: no parquet data for %s under %s", ErrSourceNotFound, symbol, dataDir)
}

// Symbol implements Source.
func (s *ParquetSource) Symbol() string { return s.symbol }

// ReadBars implements Source.
func (s *ParquetSource) ReadBars(ctx context.Context, start, end time.Time) (BarReader, error) {
	bars, err := s.store.ReadBars(ctx, s.symbol, start, end)
	if err != nil {
		return nil, err
	}
	return NewSliceReader(bars), nil
}

// AvailableDateRange implements Source.
func (s *ParquetSource) AvailableDateRange(ctx context.Context) (first, last time.Time, ok bool, err error) {
	return s.store.DateRange(ctx, s.symbol)
}

// PrimeCache is not supported: there is no upstream to fetch from.
func (s *ParquetSource) PrimeCache(context.Context, time.Time, time.Time) (int, error) {
	return 0, fmt.Errorf("parquet source %s: prime cache: %w", s.symbol, ErrNotSupported)
}

// WriteCache stores bars directly.
func (s *ParquetSource) WriteCache(ctx context.Context, bars []domain.Bar) error {
	return s.store.WriteBars(ctx, bars)
}

// UpdateToLatest is not supported: there is no upstream to fetch from.
func (s *ParquetSource) UpdateToLatest(context.Context, bool) (UpdateResult, error) {
	return UpdateResult{}, fmt.Errorf("parquet source %s: update to latest: %w", s.symbol, ErrNotSupported)
}
