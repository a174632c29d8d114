// Package sqlite persists item records with the modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mwhitfield/lostfound/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS items (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT NOT NULL,
		location    TEXT NOT NULL DEFAULT '',
		is_closed   INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items (created_at DESC);`

// Repository implements domain.ItemRepository on a local SQLite database.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path, applies the
// schema, and returns a new Repository. The caller should call Close when
// the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The driver is not safe for concurrent writers on one connection pool
	// beyond what SQLite itself serializes; a single connection avoids
	// SQLITE_BUSY under concurrent commits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateItem inserts a new item record.
func (r *Repository) CreateItem(ctx context.Context, item *domain.Item) error {
	query := `
		INSERT INTO items (id, owner_id, kind, title, description, location, is_closed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.OwnerID,
		string(item.Kind),
		item.Title,
		item.Description,
		item.Location,
		boolToInt(item.Closed),
		item.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, title, description, location, is_closed, created_at
		FROM items
		WHERE id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

// SetClosed marks an item closed.
func (r *Repository) SetClosed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE items SET is_closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListItems returns all items ordered by createdAt descending.
func (r *Repository) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, title, description, location, is_closed, created_at
		FROM items
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*domain.Item, error) {
	var (
		item      domain.Item
		kind      string
		closed    int
		createdAt int64
	)
	err := s.Scan(
		&item.ID,
		&item.OwnerID,
		&kind,
		&item.Title,
		&item.Description,
		&item.Location,
		&closed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	item.Kind = domain.Kind(kind)
	item.Closed = closed != 0
	item.CreatedAt = unixNanoUTC(createdAt)
	return &item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNanoUTC(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
