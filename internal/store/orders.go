package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tillfloat/tillsync/internal/pos"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

const orderColumns = `id, order_number, kind, table_ref, items, payment_method,
	payment_status, status, discount_pct, customer_id, address, notes,
	delivery_charge, provisional, dirty, created_at, updated_at`

// PutOrder inserts or replaces an order. The write completes (or fails)
// before returning; a failed write is the caller's to retry or report.
func (s *Store) PutOrder(ctx context.Context, o pos.Order) error {
	items, err := marshalItems(o.Items)
	if err != nil {
		return fmt.Errorf("put order %s: %w", o.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders
		(id, order_number, kind, table_ref, items, payment_method,
		 payment_status, status, discount_pct, customer_id, address, notes,
		 delivery_charge, provisional, dirty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_number = excluded.order_number,
			kind = excluded.kind,
			table_ref = excluded.table_ref,
			items = excluded.items,
			payment_method = excluded.payment_method,
			payment_status = excluded.payment_status,
			status = excluded.status,
			discount_pct = excluded.discount_pct,
			customer_id = excluded.customer_id,
			address = excluded.address,
			notes = excluded.notes,
			delivery_charge = excluded.delivery_charge,
			provisional = excluded.provisional,
			dirty = excluded.dirty,
			updated_at = excluded.updated_at
	`,
		string(o.ID),
		o.Number,
		string(o.Kind),
		o.Table.String(),
		items,
		o.PaymentMethod,
		string(o.PaymentStatus),
		string(o.Status),
		o.DiscountPct,
		string(o.CustomerID),
		o.Address,
		o.Notes,
		o.DeliveryCharge.String(),
		boolToInt(o.Provisional),
		boolToInt(o.Dirty),
		formatTime(o.CreatedAt),
		formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by id. Returns ErrNotFound if absent.
func (s *Store) GetOrder(ctx context.Context, id pos.EntityID) (pos.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

// OrderFilter narrows ListOrders. Zero fields are ignored.
type OrderFilter struct {
	Status    pos.OrderStatus
	Kind      pos.OrderKind
	DirtyOnly bool
	OpenOnly  bool // excludes completed and cancelled
}

// ListOrders returns orders matching the filter, oldest first.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]pos.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.DirtyOnly {
		query += ` AND dirty = 1`
	}
	if f.OpenOnly {
		query += ` AND status NOT IN ('completed', 'cancelled')`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []pos.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// RenameOrderID rewrites an order's primary key in place. Used by identity
// reconciliation when a provisional order receives its server identifier.
func (s *Store) RenameOrderID(ctx context.Context, oldID, newID pos.EntityID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET id = ? WHERE id = ?`, string(newID), string(oldID))
	if err != nil {
		return fmt.Errorf("rename order %s -> %s: %w", oldID, newID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename order %s -> %s: %w", oldID, newID, err)
	}
	if n == 0 {
		return fmt.Errorf("rename order %s: %w", oldID, ErrNotFound)
	}
	return nil
}

// DeleteOrder removes an order row. Only retention pruning and reconciliation
// cleanup call this; ordinary user action never deletes orders.
func (s *Store) DeleteOrder(ctx context.Context, id pos.EntityID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// PruneSynced removes fully synced, terminal orders beyond the most recent
// keep rows. Provisional or dirty orders are never pruned regardless of age.
func (s *Store) PruneSynced(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orders WHERE id IN (
			SELECT id FROM orders
			WHERE provisional = 0 AND dirty = 0
			  AND status IN ('completed', 'cancelled')
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune synced orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune synced orders: %w", err)
	}
	return int(n), nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (pos.Order, error) {
	var (
		o                            pos.Order
		id, kind, tableRef, items    string
		payStatus, status, custID    string
		charge, createdAt, updatedAt string
		provisional, dirty           int
	)
	err := sc.Scan(
		&id, &o.Number, &kind, &tableRef, &items, &o.PaymentMethod,
		&payStatus, &status, &o.DiscountPct, &custID, &o.Address, &o.Notes,
		&charge, &provisional, &dirty, &createdAt, &updatedAt,
	)
	if err != nil {
		return pos.Order{}, err
	}

	o.ID = pos.EntityID(id)
	o.Kind = pos.OrderKind(kind)
	o.PaymentStatus = pos.PaymentStatus(payStatus)
	o.Status = pos.OrderStatus(status)
	o.CustomerID = pos.EntityID(custID)
	o.Provisional = provisional != 0
	o.Dirty = dirty != 0

	if o.Table, err = pos.ParseTableRef(tableRef); err != nil {
		return pos.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	if o.Items, err = unmarshalItems(items); err != nil {
		return pos.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	if o.DeliveryCharge, err = decimal.NewFromString(charge); err != nil {
		return pos.Order{}, fmt.Errorf("order %s: invalid delivery charge %q", id, charge)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return pos.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return pos.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	return o, nil
}
