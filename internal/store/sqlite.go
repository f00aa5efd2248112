package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"barwise/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Journal = (*SQLiteStore)(nil)
var _ JournalReader = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS intentions (
	id          TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL,
	price       TEXT NOT NULL,
	confidence  TEXT NOT NULL,
	reason      TEXT NOT NULL,
	metadata    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intentions_strategy_ts ON intentions (strategy_id, ts);

CREATE TABLE IF NOT EXISTS fills (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL,
	qty      TEXT NOT NULL,
	price    TEXT NOT NULL,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills (symbol);
`

// SQLiteStore implements Journal and JournalReader backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Intentions
// ---------------------------------------------------------------------------

// SaveIntention inserts an intention. Saving the same ID twice replaces it.
func (s *SQLiteStore) SaveIntention(ctx context.Context, in domain.Intention) error {
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO intentions
			(id, strategy_id, ts, symbol, direction, price, confidence, reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.StrategyID, in.Timestamp.UnixNano(), in.Symbol, string(in.Direction),
		in.Price.String(), in.Confidence.String(), in.Reason, string(meta),
	)
	if err != nil {
		return fmt.Errorf("saving intention %s: %w", in.ID, err)
	}
	return nil
}

// ListIntentions returns the most recent intentions for a strategy, up to
// limit, newest first.
func (s *SQLiteStore) ListIntentions(ctx context.Context, strategyID string, limit int) ([]domain.Intention, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, strategy_id, ts, symbol, direction, price, confidence, reason, metadata
		 FROM intentions
		 WHERE ? = '' OR strategy_id = ?
		 ORDER BY ts DESC, rowid DESC
		 LIMIT ?`,
		strategyID, strategyID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Intention
	for rows.Next() {
		var (
			in                     domain.Intention
			ts                     int64
			dir, price, conf, meta string
		)
		if err := rows.Scan(&in.ID, &in.StrategyID, &ts, &in.Symbol, &dir, &price, &conf, &in.Reason, &meta); err != nil {
			return nil, err
		}
		in.Timestamp = time.Unix(0, ts).UTC()
		in.Direction = domain.Direction(dir)
		if in.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("intention %s price: %w", in.ID, err)
		}
		if in.Confidence, err = decimal.NewFromString(conf); err != nil {
			return nil, fmt.Errorf("intention %s confidence: %w", in.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &in.Metadata); err != nil {
			return nil, fmt.Errorf("intention %s metadata: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

// SaveFill appends a fill.
func (s *SQLiteStore) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, symbol, side, qty, price, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, string(f.Side), f.Qty.String(), f.Price.String(), f.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// ListFills returns fills in the order they were saved.
func (s *SQLiteStore) ListFills(ctx context.Context, symbol string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, symbol, side, qty, price, ts
		 FROM fills
		 WHERE ? = '' OR symbol = ?
		 ORDER BY seq`,
		symbol, symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f             domain.Fill
			side, qty, px string
			ts            int64
		)
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &qty, &px, &ts); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		f.Timestamp = time.Unix(0, ts).UTC()
		if f.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("fill %s qty: %w", f.OrderID, err)
		}
		if f.Price, err = decimal.NewFromString(px); err != nil {
			return nil, fmt.Errorf("fill %s price: %w", f.OrderID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
