package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tillfloat/tillsync/internal/pos"
)

// PutMenuItem inserts or replaces a cached menu entry.
func (s *Store) PutMenuItem(ctx context.Context, m pos.MenuItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, category, price, available, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			price = excluded.price,
			available = excluded.available,
			updated_at = excluded.updated_at
	`,
		m.ID, m.Name, m.Category, m.Price.String(),
		boolToInt(m.Available), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put menu item %d: %w", m.ID, err)
	}
	return nil
}

// GetMenuItem retrieves a cached menu entry. Returns ErrNotFound if absent.
func (s *Store) GetMenuItem(ctx context.Context, id int64) (pos.MenuItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, available, updated_at
		FROM menu_items WHERE id = ?
	`, id)
	m, err := scanMenuItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.MenuItem{}, fmt.Errorf("menu item %d: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMenuItems returns the cached menu, by category then name.
func (s *Store) ListMenuItems(ctx context.Context) ([]pos.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, available, updated_at
		FROM menu_items
		ORDER BY category ASC, name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	items := []pos.MenuItem{}
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return items, nil
}

func scanMenuItem(sc scanner) (pos.MenuItem, error) {
	var (
		m                pos.MenuItem
		price, updatedAt string
		available        int
	)
	if err := sc.Scan(&m.ID, &m.Name, &m.Category, &price, &available, &updatedAt); err != nil {
		return pos.MenuItem{}, err
	}
	m.Available = available != 0

	var err error
	if m.Price, err = decimal.NewFromString(price); err != nil {
		return pos.MenuItem{}, fmt.Errorf("menu item %d: invalid price %q", m.ID, price)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return pos.MenuItem{}, fmt.Errorf("menu item %d: %w", m.ID, err)
	}
	return m, nil
}
