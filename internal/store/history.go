package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("history store is closed")

// QueryRecord is one answered (or failed) query.
type QueryRecord struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Stats summarises the stored history for the status endpoint.
type Stats struct {
	Total         int64   `json:"total"`
	Failed        int64   `json:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// History persists queries in SQLite. Safe for concurrent use.
type History struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if needed) the history database at path and applies
// the schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway, pragmas are
	// per-connection, and every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS queries (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			response TEXT,
			error TEXT,
			backend TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queries_started_at ON queries(started_at);`,
	}

	for _, stmt := range ddl {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: init schema: %w", err)
		}
	}
	return nil
}

func (h *History) Close() error {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.db.Close()
}

// Record stores rec, assigning an ID and start time when unset. The stored
// record is returned.
func (h *History) Record(ctx context.Context, rec QueryRecord) (QueryRecord, error) {
	if h.closed.Load() {
		return rec, ErrClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.StartedAt = rec.StartedAt.UTC().Truncate(time.Millisecond)

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO queries (id, query, response, error, backend, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Query,
		rec.Response,
		rec.Error,
		rec.Backend,
		rec.StartedAt.UnixMilli(),
		rec.DurationMs,
	)
	if err != nil {
		return rec, fmt.Errorf("history: insert query: %w", err)
	}
	return rec, nil
}

// Complete stores the outcome of a query previously passed to Record.
func (h *History) Complete(ctx context.Context, rec QueryRecord) error {
	if h.closed.Load() {
		return ErrClosed
	}
	res, err := h.db.ExecContext(ctx, `
		UPDATE queries
		SET response = ?, error = ?, backend = ?, duration_ms = ?
		WHERE id = ?`,
		rec.Response,
		rec.Error,
		rec.Backend,
		rec.DurationMs,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("history: update query: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: query %s not found", rec.ID)
	}
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// selects DefaultRecentLimit; larger values are capped at MaxRecentLimit.
func (h *History) Recent(ctx context.Context, limit int) ([]QueryRecord, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	limit = clampLimit(limit)

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, query, COALESCE(response, ''), COALESCE(error, ''), COALESCE(backend, ''), started_at, duration_ms
		FROM queries
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: select recent: %w", err)
	}
	defer rows.Close()

	out := make([]QueryRecord, 0, limit)
	for rows.Next() {
		var rec QueryRecord
		var startedMs int64
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Response, &rec.Error, &rec.Backend, &startedMs, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate rows: %w", err)
	}
	return out, nil
}

func (h *History) Stats(ctx context.Context) (Stats, error) {
	if h.closed.Load() {
		return Stats{}, ErrClosed
	}
	var st Stats
	var avg sql.NullFloat64
	err := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END), 0),
		       AVG(duration_ms)
		FROM queries`).Scan(&st.Total, &st.Failed, &avg)
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	if avg.Valid {
		st.AvgDurationMs = avg.Float64
	}
	return st, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
