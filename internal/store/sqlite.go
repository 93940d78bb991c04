package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/observ"
)

const seedPageSize = 512

// SQLite persists delivered bars per feed and replays them as seed data.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY between concurrent feeds
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		observ.Warn("sqlite_pragma_failed", map[string]any{"pragma": "journal_mode", "error": err.Error()})
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		observ.Warn("sqlite_pragma_failed", map[string]any{"pragma": "synchronous", "error": err.Error()})
	}

	s := &SQLite{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS bars (
			feed TEXT NOT NULL,
			ts INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			open_interest REAL,
			PRIMARY KEY (feed, ts)
		);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create bars: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save records one bar. A bar with the same feed and time replaces the
// stored one.
func (s *SQLite) Save(ctx context.Context, feedName string, b feed.Bar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bars (feed, ts, open, high, low, close, volume, open_interest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		feedName, b.Time.UTC().UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest)
	if err != nil {
		return fmt.Errorf("save bar %s@%s: %w", feedName, b.Time.Format(time.RFC3339), err)
	}
	return nil
}

// SaveBatch records bars in one transaction.
func (s *SQLite) SaveBatch(ctx context.Context, feedName string, bars []feed.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO bars (feed, ts, open, high, low, close, volume, open_interest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, feedName, b.Time.UTC().UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest); err != nil {
			tx.Rollback()
			return fmt.Errorf("save batch %s: %w", feedName, err)
		}
	}
	return tx.Commit()
}

// Count returns how many bars are stored for feedName.
func (s *SQLite) Count(ctx context.Context, feedName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE feed = ?`, feedName).Scan(&n)
	return n, err
}

// Bars returns stored bars with time after `after` (nil for all), oldest
// first, at most limit rows (0 for no limit).
func (s *SQLite) Bars(ctx context.Context, feedName string, after *time.Time, limit int) ([]feed.Bar, error) {
	var from int64 = -1 << 63
	if after != nil {
		from = after.UTC().UnixNano()
	}
	query := `SELECT ts, open, high, low, close, volume, open_interest FROM bars
		WHERE feed = ? AND ts > ? ORDER BY ts`
	args := []any{feedName, from}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", feedName, err)
	}
	defer rows.Close()

	var out []feed.Bar
	for rows.Next() {
		var ts int64
		var b feed.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Time = time.Unix(0, ts).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Seed returns a seed source replaying feedName's stored bars in (from, to].
// Nil bounds are open.
func (s *SQLite) Seed(feedName string, from, to *time.Time) *SQLiteSeed {
	return &SQLiteSeed{store: s, feed: feedName, after: from, to: to}
}

// SQLiteSeed pages through stored bars.
type SQLiteSeed struct {
	store *SQLite
	feed  string
	after *time.Time
	to    *time.Time
	page  []feed.Bar
	done  bool
}

func (q *SQLiteSeed) Next(ctx context.Context) (feed.Bar, bool, error) {
	if len(q.page) == 0 && !q.done {
		page, err := q.store.Bars(ctx, q.feed, q.after, seedPageSize)
		if err != nil {
			return feed.Bar{}, false, err
		}
		if len(page) < seedPageSize {
			q.done = true
		}
		q.page = page
	}
	if len(q.page) == 0 {
		return feed.Bar{}, false, nil
	}
	b := q.page[0]
	if q.to != nil && b.Time.After(*q.to) {
		q.page, q.done = nil, true
		return feed.Bar{}, false, nil
	}
	q.page = q.page[1:]
	t := b.Time
	q.after = &t
	return b, true, nil
}
