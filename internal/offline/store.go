package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists queued mutations across restarts.
type Store interface {
	Add(ctx context.Context, m Mutation) error
	// Pending returns every queued mutation, oldest first.
	Pending(ctx context.Context) ([]Mutation, error)
	Update(ctx context.Context, m Mutation) error
	Remove(ctx context.Context, id string) error
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS mutations (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	parent_id   TEXT NOT NULL DEFAULT '',
	home_id     TEXT NOT NULL,
	payload     BLOB,
	created_at  INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_mutations_created ON mutations(created_at)`,
}

// SQLiteStore keeps the queue in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the queue database at path with WAL
// journaling and a busy timeout.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, m Mutation) error {
	if m.ID == "" {
		return errors.New("mutation has no id")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations (id, kind, entity_id, parent_id, home_id, payload, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, string(m.Kind), m.EntityID, m.ParentID, m.HomeID, []byte(m.Payload),
		m.CreatedAt.UnixNano(), m.RetryCount, m.LastError)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, entity_id, parent_id, home_id, payload, created_at, retry_count, last_error
		FROM mutations
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var (
			m       Mutation
			kind    string
			payload []byte
			created int64
		)
		if err := rows.Scan(&m.ID, &kind, &m.EntityID, &m.ParentID, &m.HomeID, &payload,
			&created, &m.RetryCount, &m.LastError); err != nil {
			return nil, err
		}
		m.Kind = Kind(kind)
		if len(payload) > 0 {
			m.Payload = payload
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, m Mutation) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE mutations SET retry_count = ?, last_error = ? WHERE id = ?",
		m.RetryCount, m.LastError, m.ID)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mutations WHERE id = ?", id)
	return err
}
