// Package history keeps a durable record of every committed attenuation
// change in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Record is one attenuation change.
type Record struct {
	ID          int64
	RunID       string
	Time        time.Time
	FrameNumber int64
	From        int
	To          int
	Adjustment  int
	// Cause is "auto", "override" or "emergency".
	Cause    string
	Duration time.Duration
}

// Store appends and queries change records.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	recent *sql.Stmt
}

const schema = `
CREATE TABLE IF NOT EXISTS attenuation_changes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT    NOT NULL,
	at           INTEGER NOT NULL,
	frame_number INTEGER NOT NULL,
	from_level   INTEGER NOT NULL,
	to_level     INTEGER NOT NULL,
	adjustment   INTEGER NOT NULL,
	cause        TEXT    NOT NULL,
	duration_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_at ON attenuation_changes(at);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	s := &Store{db: db}
	if s.insert, err = db.Prepare(`
		INSERT INTO attenuation_changes
			(run_id, at, frame_number, from_level, to_level, adjustment, cause, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	if s.recent, err = db.Prepare(`
		SELECT id, run_id, at, frame_number, from_level, to_level, adjustment, cause, duration_ns
		FROM attenuation_changes ORDER BY id DESC LIMIT ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	return s, nil
}

// Record appends r and returns its id.
func (s *Store) Record(ctx context.Context, r Record) (int64, error) {
	res, err := s.insert.ExecContext(ctx,
		r.RunID, r.Time.UnixNano(), r.FrameNumber, r.From, r.To, r.Adjustment, r.Cause, int64(r.Duration))
	if err != nil {
		return 0, fmt.Errorf("insert change: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.recent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at, dur int64
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.FrameNumber, &r.From, &r.To, &r.Adjustment, &r.Cause, &dur); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		r.Time = time.Unix(0, at).UTC()
		r.Duration = time.Duration(dur)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attenuation_changes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.insert.Close()
	s.recent.Close()
	return s.db.Close()
}
