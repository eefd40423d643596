package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return New(s, WithNow(func() time.Time { return fixed }))
}

func op(kind pos.OpKind, entity pos.EntityID) pos.PendingOp {
	return pos.PendingOp{
		Kind:     kind,
		Method:   "POST",
		Path:     "/orders/{id}",
		Payload:  json.RawMessage(`{"order_id":"` + string(entity) + `"}`),
		EntityID: entity,
	}
}

func TestQueue_FIFOOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var ids []int64
	for _, k := range []pos.OpKind{pos.OpCreateOrder, pos.OpMarkPaid, pos.OpUpdateStatus} {
		id, err := q.Enqueue(ctx, op(k, "local-a"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Drain in order; each dequeue advances the head, never skips.
	for i, want := range []pos.OpKind{pos.OpCreateOrder, pos.OpMarkPaid, pos.OpUpdateStatus} {
		head, ok, err := q.PeekOldest(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ids[i], head.ID)
		assert.Equal(t, want, head.Kind)
		require.NoError(t, q.Dequeue(ctx, head.ID, pos.DispositionConfirmed))
	}

	_, ok, err := q.PeekOldest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_EnqueueValidates(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), pos.PendingOp{Kind: pos.OpMarkPaid})
	assert.Error(t, err)
}

func TestQueue_RewriteLinkageBeforeSubmission(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, op(pos.OpCreateOrder, "local-p1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, op(pos.OpUpdateOrder, "local-p1"))
	require.NoError(t, err)

	// Create confirmed as server id 51: the queued update must follow.
	n, err := q.RewriteLinkage(ctx, "local-p1", "51")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ops, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, o := range ops {
		assert.Equal(t, pos.EntityID("51"), o.EntityID)
		assert.Equal(t, "/orders/51", o.ResolvedPath())
		assert.NotContains(t, string(o.Payload), "local-p1")
	}
}

func TestQueue_OpsFor(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, op(pos.OpCreateOrder, "local-p1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, op(pos.OpCreateOrder, "local-p2"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, op(pos.OpMarkPaid, "local-p1"))
	require.NoError(t, err)

	matched, err := q.OpsFor(ctx, "local-p1")
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, pos.OpCreateOrder, matched[0].Kind)
	assert.Equal(t, pos.OpMarkPaid, matched[1].Kind)
}

func TestQueue_RemoveAndCount(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, op(pos.OpCreateOrder, "local-p1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, op(pos.OpMarkPaid, "local-p1"))
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, q.Remove(ctx, []int64{id1}))

	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
