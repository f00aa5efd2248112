package adapter

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/config"
	"barwise/internal/domain"
)

var (
	_ Source = (*CSVSource)(nil)
	_ Cacher = (*CSVSource)(nil)
)

// csvDateLayout is the US month/day/year form used by the files.
const csvDateLayout = "1/2/2006"

// CSVSource reads one symbol's daily bars from a CSV file with the header
// Date,Open,High,Low,Close,Volume. Each bar is stamped 16:00 in the
// configured time zone and its prices are rounded to price_scale places.
// The file is streamed; nothing is cached.
type CSVSource struct {
	symbol string
	path   string
	cfg    settings
	log    *slog.Logger
}

// NewCSVSource validates settings and checks that the symbol's file exists.
func NewCSVSource(s config.SourceSettings, symbol string) (*CSVSource, error) {
	if s.RootPath == "" || s.PathTemplate == "" {
		return nil, fmt.Errorf("%w: csv source: root_path and path_template are required", config.ErrInvalid)
	}
	cfg, err := resolve(s)
	if err != nil {
		return nil, err
	}
	path := expandPath(s.PathTemplate, s.RootPath, symbol)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: csv file for %s: %v", ErrSourceNotFound, symbol, err)
	}
	return &CSVSource{
		symbol: symbol,
		path:   path,
		cfg:    cfg,
		log:    slog.Default().With("adapter", "csv", "symbol", symbol),
	}, nil
}

// Symbol implements Source.
func (s *CSVSource) Symbol() string { return s.symbol }

// Path returns the resolved file path.
func (s *CSVSource) Path() string { return s.path }

// ReadBars streams bars whose date falls within [start, end]. Only the
// calendar date of the bounds is compared.
func (s *CSVSource) ReadBars(_ context.Context, start, end time.Time) (BarReader, error) {
	r, err := s.open()
	if err != nil {
		return nil, err
	}
	r.start, r.end = dateOnly(start), dateOnly(end)
	return r, nil
}

// AvailableDateRange scans the whole file. Dates are returned as UTC
// midnights.
func (s *CSVSource) AvailableDateRange(_ context.Context) (first, last time.Time, ok bool, err error) {
	r, err := s.open()
	if err != nil {
		return first, last, false, err
	}
	defer r.Close()
	for {
		row, err := r.nextRow()
		if errors.Is(err, io.EOF) {
			return first, last, ok, nil
		}
		if err != nil {
			return first, last, ok, err
		}
		day, err := time.Parse(csvDateLayout, row.get("date"))
		if err != nil {
			continue
		}
		if !ok || day.Before(first) {
			first = day
		}
		if !ok || day.After(last) {
			last = day
		}
		ok = true
	}
}

// PrimeCache is not supported.
func (s *CSVSource) PrimeCache(context.Context, time.Time, time.Time) (int, error) {
	return 0, fmt.Errorf("csv source %s: prime cache: %w", s.symbol, ErrNotSupported)
}

// WriteCache is not supported.
func (s *CSVSource) WriteCache(context.Context, []domain.Bar) error {
	return fmt.Errorf("csv source %s: write cache: %w", s.symbol, ErrNotSupported)
}

// UpdateToLatest is not supported: replace the file instead.
func (s *CSVSource) UpdateToLatest(context.Context, bool) (UpdateResult, error) {
	return UpdateResult{}, fmt.Errorf("csv source %s: update to latest: %w", s.symbol, ErrNotSupported)
}

func (s *CSVSource) open() (*csvReader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	br := bufio.NewReader(f)
	// Tolerate a UTF-8 byte order mark.
	if bom, _ := br.Peek(3); len(bom) == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return &csvReader{src: s, eof: true}, nil
		}
		return nil, fmt.Errorf("csv source %s: header: %w", s.symbol, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return &csvReader{src: s, f: f, r: cr, cols: cols}, nil
}

// csvReader is the lazy BarReader behind CSVSource.
type csvReader struct {
	src      *CSVSource
	f        *os.File
	r        *csv.Reader
	cols     map[string]int
	start    time.Time
	end      time.Time
	skipped  int
	reported bool
	eof      bool
}

type csvRow struct {
	rec  []string
	cols map[string]int
}

func (r csvRow) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *csvReader) nextRow() (csvRow, error) {
	if r.eof {
		return csvRow{}, io.EOF
	}
	for {
		rec, err := r.r.Read()
		if err == nil {
			return csvRow{rec: rec, cols: r.cols}, nil
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
			return csvRow{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.skipped++
			continue
		}
		return csvRow{}, err
	}
}

// Next returns the next in-range bar, skipping malformed rows.
func (r *csvReader) Next() (domain.Bar, error) {
	for {
		row, err := r.nextRow()
		if err != nil {
			if errors.Is(err, io.EOF) && r.skipped > 0 && !r.reported {
				r.src.log.Warn("skipped malformed rows", "file", r.src.path, "count", r.skipped)
				r.reported = true
			}
			return domain.Bar{}, err
		}

		day, err := time.Parse(csvDateLayout, row.get("date"))
		if err != nil {
			r.skipped++
			continue
		}
		if !r.start.IsZero() && day.Before(r.start) {
			continue
		}
		if !r.end.IsZero() && day.After(r.end) {
			continue
		}

		bar, err := r.src.parse(day, row)
		if err != nil {
			r.skipped++
			continue
		}
		return bar, nil
	}
}

// Skipped returns the number of malformed rows seen so far.
func (r *csvReader) Skipped() int { return r.skipped }

var _ SkipCounter = (*csvReader)(nil)

func (r *csvReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (s *CSVSource) parse(day time.Time, row csvRow) (domain.Bar, error) {
	bar := domain.Bar{
		Symbol:    s.symbol,
		Timestamp: time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, s.cfg.loc),
	}
	for _, f := range []struct {
		col string
		dst *decimal.Decimal
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
	} {
		d, err := decimal.NewFromString(row.get(f.col))
		if err != nil {
			return bar, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = d.RoundBank(s.cfg.scale)
	}
	vol, err := strconv.ParseFloat(row.get("volume"), 64)
	if err != nil {
		return bar, fmt.Errorf("volume: %w", err)
	}
	bar.Volume = int64(vol)
	return bar, nil
}

// dateOnly truncates t to midnight of its own calendar date, in UTC, so
// bounds compare by date regardless of zone.
func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
