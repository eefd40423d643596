package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tillfloat/tillsync/internal/pos"
)

const customerColumns = `id, phone, name, backup_phone, addresses,
	provisional, dirty, created_at, updated_at`

// PutCustomer inserts or replaces a customer. The phone number is
// normalized here, at the store boundary, so the dedup key is canonical
// no matter which code path wrote the record.
func (s *Store) PutCustomer(ctx context.Context, c pos.Customer) error {
	addrs, err := marshalAddresses(c.Addresses)
	if err != nil {
		return fmt.Errorf("put customer %s: %w", c.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers
		(id, phone, name, backup_phone, addresses, provisional, dirty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phone = excluded.phone,
			name = excluded.name,
			backup_phone = excluded.backup_phone,
			addresses = excluded.addresses,
			provisional = excluded.provisional,
			dirty = excluded.dirty,
			updated_at = excluded.updated_at
	`,
		string(c.ID),
		pos.NormalizePhone(c.Phone),
		c.Name,
		pos.NormalizePhone(c.BackupPhone),
		addrs,
		boolToInt(c.Provisional),
		boolToInt(c.Dirty),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put customer %s: %w", c.ID, err)
	}
	return nil
}

// GetCustomer retrieves a single customer by id. Returns ErrNotFound if absent.
func (s *Store) GetCustomer(ctx context.Context, id pos.EntityID) (pos.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`, string(id))
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Customer{}, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	return c, err
}

// FindCustomerByPhone looks up a customer by normalized phone.
// Returns ErrNotFound if no customer matches. When duplicates exist (a
// provisional record awaiting collapse onto a server identity), the
// server-identified record wins, then the oldest.
func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (pos.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE phone = ?
		ORDER BY provisional ASC, created_at ASC, id ASC
		LIMIT 1
	`, pos.NormalizePhone(phone))
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Customer{}, fmt.Errorf("customer phone %s: %w", phone, ErrNotFound)
	}
	return c, err
}

// ListCustomersByPhone returns every record sharing a normalized phone,
// server-identified first. Used by reconciliation to collapse duplicates.
func (s *Store) ListCustomersByPhone(ctx context.Context, phone string) ([]pos.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE phone = ?
		ORDER BY provisional ASC, created_at ASC, id ASC
	`, pos.NormalizePhone(phone))
	if err != nil {
		return nil, fmt.Errorf("list customers by phone: %w", err)
	}
	defer rows.Close()

	customers := []pos.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return customers, nil
}

// RenameCustomerID rewrites a customer's primary key in place, plus every
// order that references it. Used by identity reconciliation.
func (s *Store) RenameCustomerID(ctx context.Context, oldID, newID pos.EntityID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename customer %s -> %s: begin tx: %w", oldID, newID, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx,
		`UPDATE customers SET id = ? WHERE id = ?`, string(newID), string(oldID))
	if err != nil {
		return fmt.Errorf("rename customer %s -> %s: %w", oldID, newID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename customer %s -> %s: %w", oldID, newID, err)
	}
	if n == 0 {
		return fmt.Errorf("rename customer %s: %w", oldID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET customer_id = ? WHERE customer_id = ?`,
		string(newID), string(oldID)); err != nil {
		return fmt.Errorf("rename customer %s -> %s: orders: %w", oldID, newID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rename customer %s -> %s: commit: %w", oldID, newID, err)
	}
	return nil
}

// DeleteCustomer removes a customer row. Only reconciliation's duplicate
// collapse calls this.
func (s *Store) DeleteCustomer(ctx context.Context, id pos.EntityID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete customer %s: %w", id, err)
	}
	return nil
}

// CollapseCustomer removes a provisional duplicate after the server
// reports an existing record for the same phone, redirecting orders to
// the canonical identifier.
func (s *Store) CollapseCustomer(ctx context.Context, provisionalID, canonicalID pos.EntityID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("collapse customer %s -> %s: begin tx: %w", provisionalID, canonicalID, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM customers WHERE id = ?`, string(provisionalID)); err != nil {
		return fmt.Errorf("collapse customer %s -> %s: %w", provisionalID, canonicalID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET customer_id = ? WHERE customer_id = ?`,
		string(canonicalID), string(provisionalID)); err != nil {
		return fmt.Errorf("collapse customer %s -> %s: orders: %w", provisionalID, canonicalID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("collapse customer %s -> %s: commit: %w", provisionalID, canonicalID, err)
	}
	return nil
}

func scanCustomer(sc scanner) (pos.Customer, error) {
	var (
		c                               pos.Customer
		id, addrs, createdAt, updatedAt string
		provisional, dirty              int
	)
	err := sc.Scan(
		&id, &c.Phone, &c.Name, &c.BackupPhone, &addrs,
		&provisional, &dirty, &createdAt, &updatedAt,
	)
	if err != nil {
		return pos.Customer{}, err
	}

	c.ID = pos.EntityID(id)
	c.Provisional = provisional != 0
	c.Dirty = dirty != 0

	if c.Addresses, err = unmarshalAddresses(addrs); err != nil {
		return pos.Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return pos.Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return pos.Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	return c, nil
}
