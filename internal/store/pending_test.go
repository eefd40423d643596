package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillfloat/tillsync/internal/pos"
)

func testOp(kind pos.OpKind, entity pos.EntityID, payload string) pos.PendingOp {
	return pos.PendingOp{
		Kind:      kind,
		Method:    "POST",
		Path:      "/orders/{id}/status",
		Payload:   json.RawMessage(payload),
		EntityID:  entity,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_PendingOps_FIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendPendingOp(ctx, testOp(pos.OpCreateOrder, "local-a", `{}`))
	require.NoError(t, err)
	id2, err := s.AppendPendingOp(ctx, testOp(pos.OpMarkPaid, "local-a", `{}`))
	require.NoError(t, err)
	id3, err := s.AppendPendingOp(ctx, testOp(pos.OpUpdateStatus, "local-a", `{}`))
	require.NoError(t, err)

	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	head, ok, err := s.OldestPendingOp(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id1, head.ID)
	assert.Equal(t, pos.OpCreateOrder, head.Kind)

	// Settling the head advances to the next entry; ids never shift.
	require.NoError(t, s.SettlePendingOp(ctx, id1, pos.DispositionConfirmed))
	head, ok, err = s.OldestPendingOp(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id2, head.ID)

	n, err := s.CountPendingOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_PendingOps_EmptyQueue(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.OldestPendingOp(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SettlePendingOp_Twice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AppendPendingOp(ctx, testOp(pos.OpCreateOrder, "local-a", `{}`))
	require.NoError(t, err)

	require.NoError(t, s.SettlePendingOp(ctx, id, pos.DispositionConfirmed))
	err = s.SettlePendingOp(ctx, id, pos.DispositionConfirmed)
	assert.ErrorIs(t, err, ErrNotFound, "an entry settles exactly once")
}

func TestStore_RewritePendingLinkage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldID := pos.EntityID("local-ord-1")
	payload := `{"order_id":"local-ord-1","amount":"1000"}`

	createID, err := s.AppendPendingOp(ctx, testOp(pos.OpCreateOrder, oldID, `{}`))
	require.NoError(t, err)
	payID, err := s.AppendPendingOp(ctx, testOp(pos.OpMarkPaid, oldID, payload))
	require.NoError(t, err)
	otherID, err := s.AppendPendingOp(ctx, testOp(pos.OpUpdateStatus, "local-ord-2", `{}`))
	require.NoError(t, err)

	// Settled entries are outside the queue and must not be rewritten.
	require.NoError(t, s.SettlePendingOp(ctx, createID, pos.DispositionConfirmed))

	touched, err := s.RewritePendingLinkage(ctx, oldID, "1042")
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	pay, err := s.GetPendingOp(ctx, payID)
	require.NoError(t, err)
	assert.Equal(t, pos.EntityID("1042"), pay.EntityID)
	assert.JSONEq(t, `{"order_id":"1042","amount":"1000"}`, string(pay.Payload))
	assert.Equal(t, "/orders/1042/status", pay.ResolvedPath())

	other, err := s.GetPendingOp(ctx, otherID)
	require.NoError(t, err)
	assert.Equal(t, pos.EntityID("local-ord-2"), other.EntityID, "unrelated entries untouched")
}

func TestStore_DeletePendingOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendPendingOp(ctx, testOp(pos.OpCreateOrder, "local-a", `{}`))
	require.NoError(t, err)
	id2, err := s.AppendPendingOp(ctx, testOp(pos.OpMarkPaid, "local-a", `{}`))
	require.NoError(t, err)

	require.NoError(t, s.DeletePendingOps(ctx, []int64{id1, id2}))
	require.NoError(t, s.DeletePendingOps(ctx, nil))

	n, err := s.CountPendingOps(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
