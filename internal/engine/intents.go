package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
	"github.com/tillfloat/tillsync/internal/tables"
)

// Receipt acknowledges an accepted intent. Provisional receipts carry a
// locally minted identity and order number; Queued reports whether the
// server confirmation is still pending.
type Receipt struct {
	ID          pos.EntityID `json:"id"`
	Number      string       `json:"order_number,omitempty"`
	Provisional bool         `json:"provisional"`
	Queued      bool         `json:"queued"`
}

// CreateOrder accepts a new order. Local-first: the order is persisted
// and queued unconditionally; if the server looks reachable a drain runs
// right after, and the receipt reflects the confirmed identity. A
// dine-in order must name a free table; the claim is taken atomically
// with the occupancy check.
func (e *Engine) CreateOrder(ctx context.Context, draft pos.Order) (Receipt, error) {
	if len(draft.Items) == 0 {
		return Receipt{}, fmt.Errorf("create order: no items")
	}
	if draft.Kind != pos.KindDineIn && draft.Kind != pos.KindDelivery {
		return Receipt{}, fmt.Errorf("create order: unknown kind %q", draft.Kind)
	}
	if draft.Kind == pos.KindDineIn && draft.Table.IsZero() {
		return Receipt{}, fmt.Errorf("create order: dine-in order needs a table")
	}

	o := draft
	o.ID = e.newID()
	o.Provisional = true
	o.Dirty = true
	o.CreatedAt = e.now()
	o.UpdatedAt = o.CreatedAt
	if o.Status == "" {
		o.Status = pos.StatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = pos.PaymentPending
	}

	number, err := e.store.NextLocalOrderNumber(ctx)
	if err != nil {
		return Receipt{}, err
	}
	o.Number = number

	claimed := false
	if o.HoldsTable() {
		res := tables.Reservation{Table: o.Table.Number, OrderID: o.ID, OrderNumber: o.Number}
		if err := e.tables.Reserve(o.Table.Number, res); err != nil {
			return Receipt{}, err
		}
		claimed = true
	}

	if err := e.store.PutOrder(ctx, o); err != nil {
		if claimed {
			e.tables.Release(o.Table.Number)
		}
		return Receipt{}, err
	}

	opID, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpCreateOrder,
		Method:   http.MethodPost,
		Path:     remote.PathOrders,
		EntityID: o.ID,
	}, o)
	if err != nil {
		return Receipt{}, err
	}

	return e.settleIntent(ctx, o.ID, o.Number, opID)
}

// UpdateOrder replaces a live order's contents. Moving a dine-in order
// to another table re-arbitrates with self-exclusion, so moving onto the
// order's own table is always allowed.
func (e *Engine) UpdateOrder(ctx context.Context, updated pos.Order) (Receipt, error) {
	prev, err := e.store.GetOrder(ctx, updated.ID)
	if err != nil {
		return Receipt{}, err
	}
	if prev.Status.Terminal() {
		return Receipt{}, fmt.Errorf("update order %s: order is %s", prev.ID, prev.Status)
	}
	if len(updated.Items) == 0 {
		return Receipt{}, fmt.Errorf("update order %s: no items", prev.ID)
	}

	o := updated
	o.Number = prev.Number
	o.Provisional = prev.Provisional
	o.CreatedAt = prev.CreatedAt
	o.Dirty = true
	o.UpdatedAt = e.now()
	if o.Status == "" {
		o.Status = prev.Status
	}
	if !pos.ValidStatus(o.Status) {
		return Receipt{}, fmt.Errorf("update order %s: unknown status %q", prev.ID, o.Status)
	}

	ex := tables.Exclusion{OrderID: o.ID, OrderNumber: o.Number}
	if o.HoldsTable() {
		res := tables.Reservation{Table: o.Table.Number, OrderID: o.ID, OrderNumber: o.Number}
		if err := e.tables.Reserve(o.Table.Number, res, ex); err != nil {
			return Receipt{}, err
		}
	}
	// The previous claim is released when the order moved tables or
	// stopped holding one at all: a terminal status in the patch, a kind
	// change to delivery, or a switch to takeaway.
	if prev.HoldsTable() && (!o.HoldsTable() || prev.Table.Number != o.Table.Number) {
		e.tables.Release(prev.Table.Number)
	}

	if err := e.store.PutOrder(ctx, o); err != nil {
		return Receipt{}, err
	}

	opID, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpUpdateOrder,
		Method:   http.MethodPut,
		Path:     remote.PathOrder,
		EntityID: o.ID,
	}, o)
	if err != nil {
		return Receipt{}, err
	}
	return e.settleIntent(ctx, o.ID, o.Number, opID)
}

// MarkAsPaid settles an order's payment.
func (e *Engine) MarkAsPaid(ctx context.Context, id pos.EntityID, method string) (Receipt, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	o.PaymentStatus = pos.PaymentCompleted
	o.PaymentMethod = method
	o.Dirty = true
	o.UpdatedAt = e.now()
	if err := e.store.PutOrder(ctx, o); err != nil {
		return Receipt{}, err
	}

	opID, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpMarkPaid,
		Method:   http.MethodPost,
		Path:     remote.PathOrderPay,
		EntityID: o.ID,
	}, struct {
		Method string `json:"payment_method"`
	}{method})
	if err != nil {
		return Receipt{}, err
	}
	return e.settleIntent(ctx, o.ID, o.Number, opID)
}

// UpdateOrderStatus advances an order through its lifecycle. Reaching a
// terminal status frees the order's table.
func (e *Engine) UpdateOrderStatus(ctx context.Context, id pos.EntityID, status pos.OrderStatus) (Receipt, error) {
	if !pos.ValidStatus(status) {
		return Receipt{}, fmt.Errorf("update status: unknown status %q", status)
	}
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	wasHolding := o.HoldsTable()
	o.Status = status
	o.Dirty = true
	o.UpdatedAt = e.now()
	if err := e.store.PutOrder(ctx, o); err != nil {
		return Receipt{}, err
	}
	if wasHolding && status.Terminal() {
		e.tables.Release(o.Table.Number)
	}

	opID, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpUpdateStatus,
		Method:   http.MethodPost,
		Path:     remote.PathOrderStatus,
		EntityID: o.ID,
	}, struct {
		Status pos.OrderStatus `json:"status"`
	}{status})
	if err != nil {
		return Receipt{}, err
	}
	return e.settleIntent(ctx, o.ID, o.Number, opID)
}

// CancelOrder cancels a live order. Queued, never-submitted operations
// for the order are removed outright; if that includes the order's own
// create, the server never hears about it at all.
func (e *Engine) CancelOrder(ctx context.Context, id pos.EntityID) (Receipt, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if o.Status.Terminal() {
		return Receipt{}, fmt.Errorf("cancel order %s: order is %s", o.ID, o.Status)
	}

	queued, err := e.queue.OpsFor(ctx, o.ID)
	if err != nil {
		return Receipt{}, err
	}
	ids := make([]int64, 0, len(queued))
	createNeverSent := false
	for _, op := range queued {
		ids = append(ids, op.ID)
		if op.Kind == pos.OpCreateOrder {
			createNeverSent = true
		}
	}
	if err := e.queue.Remove(ctx, ids); err != nil {
		return Receipt{}, err
	}

	wasHolding := o.HoldsTable()
	o.Status = pos.StatusCancelled
	o.Dirty = !createNeverSent
	o.UpdatedAt = e.now()
	if err := e.store.PutOrder(ctx, o); err != nil {
		return Receipt{}, err
	}
	if wasHolding {
		e.tables.Release(o.Table.Number)
	}

	if createNeverSent {
		// The server never saw this order; nothing to tell it.
		return Receipt{ID: o.ID, Number: o.Number, Provisional: o.Provisional}, nil
	}

	opID, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpCancelOrder,
		Method:   http.MethodPost,
		Path:     remote.PathOrderCancel,
		EntityID: o.ID,
	}, nil)
	if err != nil {
		return Receipt{}, err
	}
	return e.settleIntent(ctx, o.ID, o.Number, opID)
}

// FindOrCreateCustomer deduplicates by normalized phone. A hit returns
// the existing record, provisional or not; a miss mints a provisional
// customer and queues its creation.
func (e *Engine) FindOrCreateCustomer(ctx context.Context, name, phone string) (pos.Customer, error) {
	normalized := pos.NormalizePhone(phone)
	if normalized == "" {
		return pos.Customer{}, fmt.Errorf("find or create customer: empty phone")
	}

	c, err := e.store.FindCustomerByPhone(ctx, normalized)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return pos.Customer{}, err
	}

	c = pos.Customer{
		ID:          e.newID(),
		Phone:       normalized,
		Name:        name,
		Provisional: true,
		Dirty:       true,
		CreatedAt:   e.now(),
		UpdatedAt:   e.now(),
	}
	if err := e.store.PutCustomer(ctx, c); err != nil {
		return pos.Customer{}, err
	}

	if _, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpCreateCustomer,
		Method:   http.MethodPost,
		Path:     remote.PathCustomers,
		EntityID: c.ID,
	}, c); err != nil {
		return pos.Customer{}, err
	}

	if e.online.Load() {
		if res, err := e.drain(ctx, true); err == nil {
			if newID, ok := res.Renamed[c.ID]; ok {
				return e.store.GetCustomer(ctx, newID)
			}
		}
	}
	return c, nil
}

// AddCustomerAddress appends a delivery address and queues its upload.
func (e *Engine) AddCustomerAddress(ctx context.Context, id pos.EntityID, addr pos.Address) error {
	c, err := e.store.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	c.Addresses = append(c.Addresses, addr)
	c.Dirty = true
	c.UpdatedAt = e.now()
	if err := e.store.PutCustomer(ctx, c); err != nil {
		return err
	}

	if _, err := e.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpAddAddress,
		Method:   http.MethodPost,
		Path:     remote.PathAddresses,
		EntityID: c.ID,
	}, addr); err != nil {
		return err
	}
	if e.online.Load() {
		e.drain(ctx, true) //nolint:errcheck // queued either way
	}
	return nil
}

// IsTableOccupied answers the occupancy question for order-taking UI.
func (e *Engine) IsTableOccupied(table int, excluding ...tables.Exclusion) bool {
	return e.tables.IsOccupied(table, excluding...)
}

// ListOccupiedTables returns the merged occupancy view.
func (e *Engine) ListOccupiedTables() []tables.Reservation {
	return e.tables.Occupied()
}

// PendingOperationCount reports the queue depth.
func (e *Engine) PendingOperationCount(ctx context.Context) (int, error) {
	return e.queue.Count(ctx)
}

// QueuedOperations lists the unprocessed queue in drain order.
func (e *Engine) QueuedOperations(ctx context.Context) ([]pos.PendingOp, error) {
	return e.queue.All(ctx)
}

// Order fetches one order from the local store.
func (e *Engine) Order(ctx context.Context, id pos.EntityID) (pos.Order, error) {
	return e.store.GetOrder(ctx, id)
}

// LastSyncAt reports when the last drain pass finished, zero if never.
func (e *Engine) LastSyncAt(ctx context.Context) (time.Time, error) {
	return e.store.LastSyncAt(ctx)
}

// enqueue marshals the payload and appends the operation to the durable
// queue.
func (e *Engine) enqueue(ctx context.Context, op pos.PendingOp, payload any) (int64, error) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("enqueue %s: marshal payload: %w", op.Kind, err)
		}
		op.Payload = data
	}
	return e.queue.Enqueue(ctx, op)
}

// settleIntent finishes an intent: when the server looks reachable it
// drains immediately and folds the outcome into the receipt, otherwise
// the receipt reports the operation as queued. A terminal rejection of
// the caller's own operation surfaces as the intent's error.
func (e *Engine) settleIntent(ctx context.Context, id pos.EntityID, number string, opID int64) (Receipt, error) {
	if !e.online.Load() {
		return Receipt{ID: id, Number: number, Provisional: id.IsProvisional(), Queued: true}, nil
	}

	res, err := e.drain(ctx, true)
	if err != nil {
		return Receipt{ID: id, Number: number, Provisional: id.IsProvisional(), Queued: true}, nil
	}
	for _, rej := range res.Rejections {
		if rej.OpID == opID {
			return Receipt{}, &remote.RejectionError{
				Op:      string(rej.Kind),
				Status:  rej.Status,
				Message: rej.Message,
			}
		}
	}
	if newID, ok := res.Renamed[id]; ok {
		o, err := e.store.GetOrder(ctx, newID)
		if err != nil {
			return Receipt{ID: newID, Provisional: false}, nil
		}
		return Receipt{ID: o.ID, Number: o.Number}, nil
	}

	still, err := e.queue.OpsFor(ctx, id)
	if err != nil {
		return Receipt{ID: id, Number: number, Provisional: id.IsProvisional(), Queued: true}, nil
	}
	return Receipt{
		ID:          id,
		Number:      number,
		Provisional: id.IsProvisional(),
		Queued:      len(still) > 0,
	}, nil
}
