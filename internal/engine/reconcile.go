package engine

import (
	"context"
	"errors"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
	"github.com/tillfloat/tillsync/internal/tables"
)

// reconcile adopts a server-assigned identity after a confirmed create.
// It runs inline in the drain loop, before the next operation is
// submitted, so no queued entry can ever go out with a stale provisional
// identifier. A missing local target is an orphan: logged and skipped,
// the confirmation is already settled.
func (e *Engine) reconcile(ctx context.Context, res *SyncResult, op pos.PendingOp, sub remote.SubmitResult) {
	oldID, newID := op.EntityID, sub.ID
	if oldID == "" || oldID == newID {
		return
	}

	var err error
	switch op.Kind {
	case pos.OpCreateOrder:
		err = e.adoptOrderIdentity(ctx, oldID, newID, sub.Number)
	case pos.OpCreateCustomer:
		err = e.adoptCustomerIdentity(ctx, oldID, newID)
	default:
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("reconciliation orphan: local record gone",
				"kind", op.Kind, "provisional", oldID, "server", newID)
			return
		}
		e.logger.Error("reconciliation failed",
			"kind", op.Kind, "provisional", oldID, "server", newID, "error", err)
		return
	}

	if _, err := e.queue.RewriteLinkage(ctx, oldID, newID); err != nil {
		e.logger.Error("queue linkage rewrite failed",
			"provisional", oldID, "server", newID, "error", err)
	}

	if res.Renamed == nil {
		res.Renamed = make(map[pos.EntityID]pos.EntityID)
	}
	res.Renamed[oldID] = newID
	e.logger.Info("identity reconciled",
		"kind", op.Kind, "provisional", oldID, "server", newID)
}

// adoptOrderIdentity renames the order row, stamps the server order
// number, clears the provisional flag, and carries the table claim over
// to the new identity.
func (e *Engine) adoptOrderIdentity(ctx context.Context, oldID, newID pos.EntityID, number string) error {
	if err := e.store.RenameOrderID(ctx, oldID, newID); err != nil {
		return err
	}
	o, err := e.store.GetOrder(ctx, newID)
	if err != nil {
		return err
	}
	o.Provisional = false
	o.Dirty = false
	if number != "" {
		o.Number = number
	}
	o.UpdatedAt = e.now()
	if err := e.store.PutOrder(ctx, o); err != nil {
		return err
	}

	e.tables.Rename(oldID, tables.Reservation{OrderID: newID, OrderNumber: o.Number})
	return nil
}

// adoptCustomerIdentity renames the customer row. When the server hands
// back an identifier that already exists locally it had the same phone on
// file all along: the provisional duplicate collapses into the canonical
// record and any orders move over.
func (e *Engine) adoptCustomerIdentity(ctx context.Context, oldID, newID pos.EntityID) error {
	if _, err := e.store.GetCustomer(ctx, newID); err == nil {
		return e.store.CollapseCustomer(ctx, oldID, newID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := e.store.RenameCustomerID(ctx, oldID, newID); err != nil {
		return err
	}
	c, err := e.store.GetCustomer(ctx, newID)
	if err != nil {
		return err
	}
	c.Provisional = false
	c.Dirty = false
	c.UpdatedAt = e.now()
	return e.store.PutCustomer(ctx, c)
}
