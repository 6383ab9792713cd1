package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_results (
	session_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	body       TEXT NOT NULL
);`

// SQLiteStore keeps snapshots in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

func (s *SQLiteStore) location(id string) string {
	return fmt.Sprintf("sqlite://%s#%s", s.path, id)
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.SessionID == "" {
		return Record{}, fmt.Errorf("store: session id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_results (session_id, name, created_at, body)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET name = excluded.name, created_at = excluded.created_at, body = excluded.body`,
		rec.SessionID, rec.Name, rec.CreatedAt.UnixNano(), string(rec.Body))
	if err != nil {
		return Record{}, fmt.Errorf("store: save %s: %w", rec.SessionID, err)
	}
	rec.Location = s.location(rec.SessionID)
	return rec, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (Record, error) {
	var (
		rec     Record
		created int64
		body    string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, created_at, body FROM session_results WHERE session_id = ?`, sessionID)
	if err := row.Scan(&rec.SessionID, &rec.Name, &created, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return Record{}, fmt.Errorf("store: load %s: %w", sessionID, err)
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.Body = []byte(body)
	rec.Location = s.location(rec.SessionID)
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, created_at FROM session_results ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			rec     Record
			created int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Name, &created); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created)
		rec.Location = s.location(rec.SessionID)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
