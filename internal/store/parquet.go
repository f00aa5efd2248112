package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"barwise/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk, one file per
// symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
	Market  domain.Market

	mu sync.Mutex // serialises read-merge-write of a year file
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory. An empty market defaults to us.
func NewParquetStore(dataDir string, market domain.Market) *ParquetStore {
	if market == "" {
		market = domain.MarketUS
	}
	return &ParquetStore{DataDir: dataDir, Market: market}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data. Prices are decimal
// strings so that what is read back equals what was written.
type BarRecord struct {
	Symbol    string `parquet:"symbol"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Zone      string `parquet:"zone"`
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    int64  `parquet:"volume"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:    strings.ToUpper(b.Symbol),
		Timestamp: b.Timestamp.UnixMilli(),
		Zone:      b.Timestamp.Location().String(),
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume,
	}
}

func (r BarRecord) bar() (domain.Bar, error) {
	ts := time.UnixMilli(r.Timestamp).UTC()
	if r.Zone != "" && r.Zone != "UTC" {
		if loc, err := time.LoadLocation(r.Zone); err == nil {
			ts = ts.In(loc)
		}
	}
	var (
		b   = domain.Bar{Symbol: r.Symbol, Timestamp: ts, Volume: r.Volume}
		err error
	)
	if b.Open, err = decimal.NewFromString(r.Open); err != nil {
		return b, fmt.Errorf("open: %w", err)
	}
	if b.High, err = decimal.NewFromString(r.High); err != nil {
		return b, fmt.Errorf("high: %w", err)
	}
	if b.Low, err = decimal.NewFromString(r.Low); err != nil {
		return b, fmt.Errorf("low: %w", err)
	}
	if b.Close, err = decimal.NewFromString(r.Close); err != nil {
		return b, fmt.Errorf("close: %w", err)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files grouped by symbol and year,
// merging with what is already on disk.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, records := range groups {
		path := s.barPath(k.symbol, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Rows that cannot be decoded are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.years(symbol)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if !start.IsZero() && year < start.Year() {
			continue
		}
		if !end.IsZero() && year > end.Year() {
			continue
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			b, err := r.bar()
			if err != nil {
				continue
			}
			if !start.IsZero() && b.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && b.Timestamp.After(end) {
				continue
			}
			bars = append(bars, b)
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the store's market.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(s.Market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// DateRange returns the timestamps of the first and last stored bar for
// symbol. ok is false when nothing is stored.
func (s *ParquetStore) DateRange(ctx context.Context, symbol string) (first, last time.Time, ok bool, err error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return first, last, false, err
	}
	head, err := s.ReadBars(ctx, symbol, time.Date(years[0], 1, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	if err != nil || len(head) == 0 {
		return first, last, false, err
	}
	first = head[0].Timestamp
	last = head[len(head)-1].Timestamp
	return first, last, true, nil
}

// LatestTimestamp returns the timestamp of the newest stored bar for symbol.
func (s *ParquetStore) LatestTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return time.Time{}, false, err
	}
	last := years[len(years)-1]
	bars, err := s.ReadBars(ctx, symbol, time.Date(last, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	if err != nil || len(bars) == 0 {
		return time.Time{}, false, err
	}
	return bars[len(bars)-1].Timestamp, true, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, string(s.Market), "daily", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// years lists the year files present for symbol, ascending.
func (s *ParquetStore) years(symbol string) ([]int, error) {
	dir := filepath.Join(s.DataDir, string(s.Market), "daily", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
