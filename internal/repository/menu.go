package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/teamcart/internal/domain/menu"
)

const getMenuItemByIDSQL = `SELECT id, restaurant_id, name, category, price, available, options
	FROM menu_items WHERE id = $1`

const upsertMenuItemSQL = `INSERT INTO menu_items (id, restaurant_id, name, category, price, available, options)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		restaurant_id = EXCLUDED.restaurant_id, name = EXCLUDED.name, category = EXCLUDED.category,
		price = EXCLUDED.price, available = EXCLUDED.available, options = EXCLUDED.options`

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	db DBTX
}

// NewMenuRepository returns a MenuRepository that uses db.
func NewMenuRepository(db DBTX) *MenuRepository {
	return &MenuRepository{db: db}
}

// GetByID returns a single menu item by its identifier.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (*menu.Item, error) {
	rows, err := r.db.Query(ctx, getMenuItemByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting menu item %q: %w", id, err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanMenuItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, menu.ErrNotFound
		}
		return nil, fmt.Errorf("getting menu item %q: %w", id, err)
	}
	return &item, nil
}

// Upsert inserts item or replaces it.
func (r *MenuRepository) Upsert(ctx context.Context, item menu.Item) error {
	options := item.Options
	if options == nil {
		options = []menu.Option{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshaling menu options: %w", err)
	}
	if _, err := r.db.Exec(ctx, upsertMenuItemSQL,
		item.ID, item.RestaurantID, item.Name, item.Category, item.Price, item.Available, raw,
	); err != nil {
		return fmt.Errorf("upserting menu item %q: %w", item.ID, err)
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (menu.Item, error) {
	var (
		item    menu.Item
		options []byte
	)
	if err := row.Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Category, &item.Price, &item.Available, &options); err != nil {
		return item, err
	}
	if err := json.Unmarshal(options, &item.Options); err != nil {
		return item, fmt.Errorf("unmarshaling menu options: %w", err)
	}
	return item, nil
}
