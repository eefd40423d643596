// Package queue provides the durable pending-operation queue the sync
// engine drains against the server.
//
// The queue is a thin discipline over the store's pending-operation log:
// append-only enqueue, strictly ordered FIFO draining by log id, and a
// single permitted mutation besides dequeue - rewriting provisional
// identity linkages after a create is confirmed. Ordering is load-bearing:
// a later update against an order implicitly depends on the earlier create
// having already assigned a real identifier, so no entry is ever reordered
// ahead of an older one.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/store"
)

// Queue is the durable FIFO of not-yet-confirmed server mutations.
//
// Thread-safety model: the sync engine is the queue's only writer; UI code
// reads counts and listings. SQLite's single-connection store serializes
// the underlying access either way.
type Queue struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithNow overrides the enqueue timestamp source. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over the given store.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an operation durably and returns its queue id.
// Never blocks on the network; the append completes or fails before
// returning, so a UI intent can trust that an accepted operation will
// eventually be submitted.
func (q *Queue) Enqueue(ctx context.Context, op pos.PendingOp) (int64, error) {
	if op.Kind == "" || op.Method == "" || op.Path == "" {
		return 0, fmt.Errorf("enqueue: operation missing kind, method, or path")
	}
	op.CreatedAt = q.now()

	id, err := q.store.AppendPendingOp(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", op.Kind, err)
	}

	q.logger.Debug("operation enqueued",
		"op_id", id,
		"kind", op.Kind,
		"entity_id", op.EntityID,
	)
	return id, nil
}

// PeekOldest returns the head of the queue without removing it.
// Returns ok=false when the queue is empty.
func (q *Queue) PeekOldest(ctx context.Context) (pos.PendingOp, bool, error) {
	op, ok, err := q.store.OldestPendingOp(ctx)
	if err != nil {
		return pos.PendingOp{}, false, fmt.Errorf("peek oldest: %w", err)
	}
	return op, ok, nil
}

// PeekByID returns the live entry with the given id. Entries that were
// settled or removed since the caller's snapshot report store.ErrNotFound.
func (q *Queue) PeekByID(ctx context.Context, id int64) (pos.PendingOp, error) {
	op, err := q.store.GetPendingOp(ctx, id)
	if err != nil {
		return pos.PendingOp{}, fmt.Errorf("peek %d: %w", id, err)
	}
	if op.Disposition != "" {
		return pos.PendingOp{}, fmt.Errorf("peek %d: %w", id, store.ErrNotFound)
	}
	return op, nil
}

// Dequeue settles the entry with the given disposition
// (pos.DispositionConfirmed or pos.DispositionRejected).
func (q *Queue) Dequeue(ctx context.Context, id int64, disposition string) error {
	if err := q.store.SettlePendingOp(ctx, id, disposition); err != nil {
		return fmt.Errorf("dequeue %d: %w", id, err)
	}
	q.logger.Debug("operation dequeued", "op_id", id, "disposition", disposition)
	return nil
}

// Remove deletes never-submitted entries outright. Only order cancellation
// before the first drain uses this; everything else goes through Dequeue.
func (q *Queue) Remove(ctx context.Context, ids []int64) error {
	if err := q.store.DeletePendingOps(ctx, ids); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// RewriteLinkage replaces every queued reference to oldID with newID.
// Must run before any rewritten entry is submitted; the store applies the
// rewrite transactionally. Returns the number of entries touched.
func (q *Queue) RewriteLinkage(ctx context.Context, oldID, newID pos.EntityID) (int, error) {
	n, err := q.store.RewritePendingLinkage(ctx, oldID, newID)
	if err != nil {
		return 0, fmt.Errorf("rewrite linkage %s -> %s: %w", oldID, newID, err)
	}
	if n > 0 {
		q.logger.Debug("linkage rewritten",
			"old_id", oldID,
			"new_id", newID,
			"entries", n,
		)
	}
	return n, nil
}

// All returns the queued entries in FIFO order. The sync engine snapshots
// the queue with this at the start of a drain pass so enqueues arriving
// mid-pass wait for the next trigger.
func (q *Queue) All(ctx context.Context) ([]pos.PendingOp, error) {
	ops, err := q.store.ListPendingOps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return ops, nil
}

// OpsFor returns the queued entries whose linkage or payload references the
// given entity, in FIFO order.
func (q *Queue) OpsFor(ctx context.Context, id pos.EntityID) ([]pos.PendingOp, error) {
	ops, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	matched := []pos.PendingOp{}
	for _, op := range ops {
		if op.References(id) {
			matched = append(matched, op)
		}
	}
	return matched, nil
}

// Count returns the number of queued entries.
func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.store.CountPendingOps(ctx)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}
