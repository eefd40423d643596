package engine

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
	"github.com/tillfloat/tillsync/internal/tables"
)

// Rejection is one terminally refused operation from a drain pass.
type Rejection struct {
	OpID     int64        `json:"op_id"`
	Kind     pos.OpKind   `json:"kind"`
	EntityID pos.EntityID `json:"entity_id,omitempty"`
	Status   int          `json:"status"`
	Message  string       `json:"message,omitempty"`
}

// SyncResult summarizes one drain pass. Failed counts operations still
// queued when the pass stopped; Renamed maps provisional identifiers to
// the server identifiers assigned during the pass.
type SyncResult struct {
	Synced     int                           `json:"synced"`
	Failed     int                           `json:"failed"`
	Rejections []Rejection                   `json:"rejections,omitempty"`
	Renamed    map[pos.EntityID]pos.EntityID `json:"renamed,omitempty"`
	Err        error                         `json:"-"`
}

// SyncNow forces one drain pass, bypassing the minimum inter-sync gap.
// It blocks until the single drain permit is available or the context
// ends. The returned error covers pass setup only; per-operation
// failures land in the result.
func (e *Engine) SyncNow(ctx context.Context) (SyncResult, error) {
	select {
	case <-e.permit:
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
	defer func() { e.permit <- struct{}{} }()
	return e.drainLocked(ctx)
}

// drain is the automatic-trigger entry: non-blocking on the permit and
// subject to the minimum gap. A skipped pass returns a zero result.
func (e *Engine) drain(ctx context.Context, force bool) (SyncResult, error) {
	select {
	case <-e.permit:
	default:
		return SyncResult{}, nil
	}
	defer func() { e.permit <- struct{}{} }()

	if !force && !e.lastSync.IsZero() && e.now().Sub(e.lastSync) < e.minGap {
		return SyncResult{}, nil
	}
	return e.drainLocked(ctx)
}

// drainLocked runs one pass over a snapshot of the queue. Caller holds
// the permit. Operations enqueued mid-pass wait for the next trigger.
func (e *Engine) drainLocked(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	ops, err := e.queue.All(ctx)
	if err != nil {
		return res, err
	}

	for i, op := range ops {
		// Reconciliation may have rewritten this entry since the
		// snapshot was taken; replay the stored version.
		current, err := e.queue.PeekByID(ctx, op.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // settled by a cancellation mid-pass
			}
			res.Err = multierror.Append(res.Err, err)
			res.Failed = len(ops) - i
			break
		}

		sub, err := e.remote.Do(ctx, current)
		switch {
		case err == nil:
			if err := e.queue.Dequeue(ctx, current.ID, pos.DispositionConfirmed); err != nil {
				res.Err = multierror.Append(res.Err, err)
				res.Failed = len(ops) - i
				e.lastSync = e.now()
				return res, nil
			}
			res.Synced++
			if current.Kind.IsCreate() && sub.ID != "" {
				e.reconcile(ctx, &res, current, sub)
			}

		case remote.IsRetryable(err):
			// Connectivity-level failure: the operation stays queued
			// untouched and the pass stops to preserve ordering.
			e.online.Store(false)
			res.Failed = len(ops) - i
			res.Err = multierror.Append(res.Err, err)
			e.logger.Warn("drain stopped: transport failure",
				"op_id", current.ID, "kind", current.Kind, "error", err)
			e.lastSync = e.now()
			return res, nil

		default:
			// Business rejection: terminal. Settle and keep draining.
			rej := Rejection{OpID: current.ID, Kind: current.Kind, EntityID: current.EntityID}
			var re *remote.RejectionError
			if errors.As(err, &re) {
				rej.Status = re.Status
				rej.Message = re.Message
			} else {
				rej.Message = err.Error()
			}
			res.Rejections = append(res.Rejections, rej)
			if err := e.queue.Dequeue(ctx, current.ID, pos.DispositionRejected); err != nil {
				res.Err = multierror.Append(res.Err, err)
			}
			e.handleRejection(ctx, current, rej)
		}
	}

	e.lastSync = e.now()
	e.online.Store(true)

	if err := e.refreshSnapshot(ctx); err != nil {
		e.logger.Warn("table snapshot refresh failed", "error", err)
	}
	if err := e.store.SetLastSyncAt(ctx, e.lastSync); err != nil {
		res.Err = multierror.Append(res.Err, err)
	}
	return res, nil
}

// handleRejection unwinds local state a refused operation was holding.
// A refused order create releases its table claim and cancels the order
// row: with the create gone nothing about the order can ever sync, and
// an open provisional row would re-claim the table on the next warm
// start. The cancelled row stays visible for the operator; it is never
// silently re-tabled.
func (e *Engine) handleRejection(ctx context.Context, op pos.PendingOp, rej Rejection) {
	e.logger.Warn("operation rejected",
		"op_id", op.ID, "kind", op.Kind, "entity", op.EntityID,
		"status", rej.Status, "message", rej.Message)

	if op.Kind != pos.OpCreateOrder || op.EntityID == "" {
		return
	}
	e.tables.ReleaseOwned(tables.Exclusion{OrderID: op.EntityID})

	o, err := e.store.GetOrder(ctx, op.EntityID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("rejected order lookup failed", "entity", op.EntityID, "error", err)
		}
		return
	}
	if o.Status.Terminal() {
		return
	}
	o.Status = pos.StatusCancelled
	o.Dirty = false
	o.UpdatedAt = e.now()
	if err := e.store.PutOrder(ctx, o); err != nil {
		e.logger.Warn("failed to persist rejection outcome", "entity", op.EntityID, "error", err)
	}
}

// refreshSnapshot pulls the server's occupancy after a completed pass
// and persists it for the next cold start.
func (e *Engine) refreshSnapshot(ctx context.Context) error {
	snapshot, err := e.remote.FetchTableSnapshot(ctx)
	if err != nil {
		if remote.IsRetryable(err) {
			e.online.Store(false)
		}
		return err
	}
	e.tables.SetServerSnapshot(snapshot)

	entries := make([]store.SnapshotEntry, 0, len(snapshot))
	for _, r := range snapshot {
		entries = append(entries, store.SnapshotEntry{
			Table:       r.Table,
			OrderID:     r.OrderID,
			OrderNumber: r.OrderNumber,
		})
	}
	return e.store.ReplaceTableSnapshot(ctx, entries, e.now())
}
