package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the persistence the Service needs.
type Repository interface {
	ListItems(ctx context.Context, homeID string) ([]Item, error)
	GetItem(ctx context.Context, homeID, id string) (*Item, error)
	CreateItem(ctx context.Context, it *Item) error
	UpdateItem(ctx context.Context, it *Item) error
	DeleteItem(ctx context.Context, homeID, id string) error

	ListLists(ctx context.Context, homeID string) ([]List, error)
	GetList(ctx context.Context, homeID, id string) (*List, error)
	CreateList(ctx context.Context, l *List) error
	GetListItem(ctx context.Context, listID, id string) (*ListItem, error)
	CreateListItem(ctx context.Context, it *ListItem) error
	UpdateListItem(ctx context.Context, it *ListItem) error
	DeleteListItem(ctx context.Context, listID, id string) error

	GetResponse(ctx context.Context, homeID, key string) (*StoredResponse, error)
	SaveResponse(ctx context.Context, homeID, key string, resp StoredResponse) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListItems(ctx context.Context, homeID string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, home_id, name, quantity, unit, category, in_stock, updated_at
		FROM items WHERE home_id = $1 ORDER BY name`, homeID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.HomeID, &it.Name, &it.Quantity, &it.Unit, &it.Category, &it.InStock, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) GetItem(ctx context.Context, homeID, id string) (*Item, error) {
	var it Item
	err := r.db.QueryRowContext(ctx, `
		SELECT id, home_id, name, quantity, unit, category, in_stock, updated_at
		FROM items WHERE home_id = $1 AND id = $2`, homeID, id,
	).Scan(&it.ID, &it.HomeID, &it.Name, &it.Quantity, &it.Unit, &it.Category, &it.InStock, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

func (r *PostgresRepository) CreateItem(ctx context.Context, it *Item) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO items (id, home_id, name, quantity, unit, category, in_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING updated_at`,
		it.ID, it.HomeID, it.Name, it.Quantity, it.Unit, it.Category, it.InStock,
	).Scan(&it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateItem(ctx context.Context, it *Item) error {
	err := r.db.QueryRowContext(ctx, `
		UPDATE items SET name = $3, quantity = $4, unit = $5, category = $6, in_stock = $7,
		       updated_at = CURRENT_TIMESTAMP
		WHERE home_id = $1 AND id = $2 RETURNING updated_at`,
		it.HomeID, it.ID, it.Name, it.Quantity, it.Unit, it.Category, it.InStock,
	).Scan(&it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteItem(ctx context.Context, homeID, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM items WHERE home_id = $1 AND id = $2", homeID, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) ListLists(ctx context.Context, homeID string) ([]List, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, home_id, name, created_at FROM lists WHERE home_id = $1 ORDER BY created_at`, homeID)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.HomeID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range lists {
		if lists[i].Items, err = r.listItems(ctx, lists[i].ID); err != nil {
			return nil, err
		}
	}
	return lists, nil
}

func (r *PostgresRepository) GetList(ctx context.Context, homeID, id string) (*List, error) {
	var l List
	err := r.db.QueryRowContext(ctx,
		"SELECT id, home_id, name, created_at FROM lists WHERE home_id = $1 AND id = $2", homeID, id,
	).Scan(&l.ID, &l.HomeID, &l.Name, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}

	if l.Items, err = r.listItems(ctx, l.ID); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresRepository) listItems(ctx context.Context, listID string) ([]ListItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, list_id, name, quantity, completed, created_at
		FROM list_items WHERE list_id = $1 ORDER BY created_at`, listID)
	if err != nil {
		return nil, fmt.Errorf("query list items: %w", err)
	}
	defer rows.Close()

	items := []ListItem{}
	for rows.Next() {
		var it ListItem
		if err := rows.Scan(&it.ID, &it.ListID, &it.Name, &it.Quantity, &it.Completed, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CreateList(ctx context.Context, l *List) error {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO lists (id, home_id, name) VALUES ($1, $2, $3) RETURNING created_at",
		l.ID, l.HomeID, l.Name,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetListItem(ctx context.Context, listID, id string) (*ListItem, error) {
	var it ListItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, list_id, name, quantity, completed, created_at
		FROM list_items WHERE list_id = $1 AND id = $2`, listID, id,
	).Scan(&it.ID, &it.ListID, &it.Name, &it.Quantity, &it.Completed, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list item: %w", err)
	}
	return &it, nil
}

func (r *PostgresRepository) CreateListItem(ctx context.Context, it *ListItem) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO list_items (id, list_id, name, quantity, completed)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		it.ID, it.ListID, it.Name, it.Quantity, it.Completed,
	).Scan(&it.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert list item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateListItem(ctx context.Context, it *ListItem) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE list_items SET name = $3, quantity = $4, completed = $5 WHERE list_id = $1 AND id = $2",
		it.ListID, it.ID, it.Name, it.Quantity, it.Completed)
	if err != nil {
		return fmt.Errorf("update list item: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) DeleteListItem(ctx context.Context, listID, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM list_items WHERE list_id = $1 AND id = $2", listID, id)
	if err != nil {
		return fmt.Errorf("delete list item: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) GetResponse(ctx context.Context, homeID, key string) (*StoredResponse, error) {
	var resp StoredResponse
	err := r.db.QueryRowContext(ctx,
		"SELECT status, body FROM idempotency_keys WHERE home_id = $1 AND key = $2", homeID, key,
	).Scan(&resp.Status, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &resp, nil
}

func (r *PostgresRepository) SaveResponse(ctx context.Context, homeID, key string, resp StoredResponse) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (home_id, key, status, body) VALUES ($1, $2, $3, $4)
		ON CONFLICT (home_id, key) DO NOTHING`, homeID, key, resp.Status, resp.Body)
	if err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
