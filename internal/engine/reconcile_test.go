package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
)

func TestReconcileCustomerRename(t *testing.T) {
	env := newTestEnv(t)
	env.remote.script = transportDown
	ctx := context.Background()

	c, err := env.engine.FindOrCreateCustomer(ctx, "Ali", "03001234567")
	require.NoError(t, err)
	require.True(t, c.Provisional)

	env.remote.script = nil
	res, err := env.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	newID := res.Renamed[c.ID]
	require.Equal(t, pos.EntityID("51"), newID)

	got, err := env.store.GetCustomer(ctx, newID)
	require.NoError(t, err)
	assert.False(t, got.Provisional)
	assert.Equal(t, "03001234567", got.Phone)

	_, err = env.store.GetCustomer(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconcileCustomerDuplicateCollapse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The server already knows this phone as customer 9; the device
	// synced that record some time ago.
	require.NoError(t, env.store.PutCustomer(ctx, pos.Customer{
		ID:        "9",
		Phone:     "03001234567",
		Name:      "Ali",
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	}))

	// Offline order-taking minted a provisional duplicate anyway, for
	// example after a restore wiped the customer cache.
	dup := pos.Customer{
		ID:          "local-p1",
		Phone:       "03001234567",
		Name:        "Ali (walk-in)",
		Provisional: true,
		Dirty:       true,
		CreatedAt:   testEpoch,
		UpdatedAt:   testEpoch,
	}
	require.NoError(t, env.store.PutCustomer(ctx, dup))

	order := dineInDraft(3)
	order.Kind = pos.KindDelivery
	order.Table = pos.TableRef{}
	order.ID = "local-p2"
	order.CustomerID = dup.ID
	order.Number = "L-1"
	order.Status = pos.StatusPending
	order.PaymentStatus = pos.PaymentPending
	order.Provisional = true
	order.Dirty = true
	order.CreatedAt = testEpoch
	order.UpdatedAt = testEpoch
	require.NoError(t, env.store.PutOrder(ctx, order))

	_, err := env.engine.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpCreateCustomer,
		Method:   http.MethodPost,
		Path:     remote.PathCustomers,
		EntityID: dup.ID,
	}, dup)
	require.NoError(t, err)

	// The server answers the create with the pre-existing identity.
	env.remote.script = func(_ int, op pos.PendingOp) (remote.SubmitResult, error) {
		return remote.SubmitResult{ID: "9"}, nil
	}
	res, err := env.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	assert.Equal(t, pos.EntityID("9"), res.Renamed[dup.ID])

	// The provisional duplicate is gone and the order moved over.
	_, err = env.store.GetCustomer(ctx, dup.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	o, err := env.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.EntityID("9"), o.CustomerID)
}

func TestReconcileOrphanLogsAndContinues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A create whose local row vanished (pruned, manual cleanup).
	_, err := env.engine.enqueue(ctx, pos.PendingOp{
		Kind:     pos.OpCreateOrder,
		Method:   http.MethodPost,
		Path:     remote.PathOrders,
		EntityID: "local-gone",
	}, map[string]string{"kind": "dine_in"})
	require.NoError(t, err)

	res, err := env.engine.SyncNow(ctx)
	require.NoError(t, err)

	// Confirmed and settled; the missing row is not an error.
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, res.Renamed)

	count, err := env.engine.PendingOperationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
