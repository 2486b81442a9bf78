package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrThreadNotFound is returned when a thread does not exist or belongs to
// another household.
var ErrThreadNotFound = errors.New("chat thread not found")

// MessageStore is the persistence the orchestrator and REST handlers need.
type MessageStore interface {
	CreateThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, homeID, threadID string) (*Thread, error)
	ListThreads(ctx context.Context, homeID string) ([]Thread, error)
	TouchThread(ctx context.Context, threadID string) error
	InsertMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, id, content, intent string) error
	// FindRecentMessages returns at most limit messages, oldest first.
	FindRecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateThread(ctx context.Context, t *Thread) error {
	query := `
		INSERT INTO chat_threads (id, home_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, last_activity_at`
	return r.db.QueryRowContext(ctx, query, t.ID, t.HomeID, t.Title).Scan(&t.CreatedAt, &t.LastActivityAt)
}

func (r *Repository) GetThread(ctx context.Context, homeID, threadID string) (*Thread, error) {
	query := `
		SELECT id, home_id, title, created_at, last_activity_at
		FROM chat_threads
		WHERE id = $1 AND home_id = $2`
	t := &Thread{}
	err := r.db.QueryRowContext(ctx, query, threadID, homeID).
		Scan(&t.ID, &t.HomeID, &t.Title, &t.CreatedAt, &t.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (r *Repository) ListThreads(ctx context.Context, homeID string) ([]Thread, error) {
	query := `
		SELECT id, home_id, title, created_at, last_activity_at
		FROM chat_threads
		WHERE home_id = $1
		ORDER BY last_activity_at DESC`
	rows, err := r.db.QueryContext(ctx, query, homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []Thread{}
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.HomeID, &t.Title, &t.CreatedAt, &t.LastActivityAt); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (r *Repository) TouchThread(ctx context.Context, threadID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE chat_threads SET last_activity_at = $2 WHERE id = $1", threadID, time.Now().UTC())
	return err
}

func (r *Repository) InsertMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO chat_messages (id, thread_id, role, content, intent, user_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, m.ID, m.ThreadID, m.Role, m.Content, m.Intent, m.UserID).
		Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *Repository) UpdateMessage(ctx context.Context, id, content, intent string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE chat_messages SET content = $2, intent = $3 WHERE id = $1", id, content, intent)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update message %s: no such row", id)
	}
	return nil
}

func (r *Repository) FindRecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	query := `
		SELECT id, thread_id, role, content, intent, COALESCE(user_id::text, ''), created_at
		FROM chat_messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Intent, &m.UserID, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
