package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/mo"
	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps sort correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps records in a single audit_records table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			raw_input TEXT NOT NULL,
			outcome TEXT NOT NULL,
			target_path TEXT,
			item_count INTEGER,
			detail TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);`)
	return err
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	var target sql.NullString
	if p, ok := rec.TargetPath.Get(); ok {
		target = sql.NullString{String: p, Valid: true}
	}
	var count sql.NullInt64
	if n, ok := rec.ItemCount.Get(); ok {
		count = sql.NullInt64{Int64: int64(n), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_records
		(id, timestamp, requester_id, channel, operation, raw_input, outcome, target_path, item_count, detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.RequesterID,
		rec.Channel,
		rec.Operation,
		rec.RawInput,
		rec.OutcomeTag,
		target,
		count,
		rec.Detail,
		rec.DurationMs,
	)
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, requester_id, channel, operation, raw_input,
		outcome, target_path, item_count, detail, duration_ms
		FROM audit_records ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec    Record
			ts     string
			target sql.NullString
			count  sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.RequesterID, &rec.Channel, &rec.Operation, &rec.RawInput,
			&rec.OutcomeTag, &target, &count, &rec.Detail, &rec.DurationMs); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timestampLayout, ts); err == nil {
			rec.Timestamp = t
		}
		if target.Valid {
			rec.TargetPath = mo.Some(target.String)
		}
		if count.Valid {
			rec.ItemCount = mo.Some(int(count.Int64))
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := newStats()

	rows, err := s.db.QueryContext(ctx, `SELECT operation, outcome, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM audit_records GROUP BY operation, outcome`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op, outcome string
			n           int
			first, last string
		)
		if err := rows.Scan(&op, &outcome, &n, &first, &last); err != nil {
			return st, err
		}
		st.Total += n
		st.ByOperation[op] += n
		st.ByOutcome[outcome] += n
		if t, err := time.Parse(timestampLayout, first); err == nil && (st.First.IsZero() || t.Before(st.First)) {
			st.First = t
		}
		if t, err := time.Parse(timestampLayout, last); err == nil && t.After(st.Last) {
			st.Last = t
		}
	}
	return st, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Reader = (*SQLiteStore)(nil)
)
