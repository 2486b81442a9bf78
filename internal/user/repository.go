package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrHomeNotFound  = errors.New("household not found")
	ErrUsernameTaken = errors.New("username is already taken")
)

const uniqueViolation = "23505"

// Store is the persistence the Service needs.
type Store interface {
	CreateHomeWithUser(ctx context.Context, home *Home, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetHome(ctx context.Context, id string) (*Home, error)
	ListMembers(ctx context.Context, homeID string) ([]Member, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateHomeWithUser inserts a household and its first member atomically.
func (r *Repository) CreateHomeWithUser(ctx context.Context, home *Home, u *User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		"INSERT INTO homes (id, name) VALUES ($1, $2) RETURNING created_at",
		home.ID, home.Name,
	).Scan(&home.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert home: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		"INSERT INTO users (id, home_id, username, password) VALUES ($1, $2, $3, $4) RETURNING created_at",
		u.ID, u.HomeID, u.Username, u.Password,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return tx.Commit()
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, home_id, username, password, created_at FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.HomeID, &u.Username, &u.Password, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) GetHome(ctx context.Context, id string) (*Home, error) {
	h := &Home{}
	err := r.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM homes WHERE id = $1", id).
		Scan(&h.ID, &h.Name, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHomeNotFound
		}
		return nil, err
	}
	return h, nil
}

// ListMembers returns a household's users, earliest first.
func (r *Repository) ListMembers(ctx context.Context, homeID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, created_at FROM users WHERE home_id = $1 ORDER BY created_at, username", homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
