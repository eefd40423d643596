package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillfloat/tillsync/internal/pos"
)

// newTestStore opens a store on a temp path and closes it on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testOrder(id pos.EntityID) pos.Order {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return pos.Order{
		ID:     id,
		Number: "L-1",
		Kind:   pos.KindDineIn,
		Table:  pos.TableAt(3),
		Items: []pos.LineItem{
			{MenuItemID: 7, Name: "Karahi", Qty: 2, UnitPrice: decimal.NewFromInt(500)},
		},
		PaymentStatus:  pos.PaymentPending,
		Status:         pos.StatusPending,
		DeliveryCharge: decimal.Zero,
		Provisional:    true,
		Dirty:          true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_OpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Second open applies schema and migrations again without error.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestStore_OrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testOrder("local-ord-1")
	require.NoError(t, s.PutOrder(ctx, want))

	got, err := s.GetOrder(ctx, "local-ord-1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Table, got.Table)
	assert.True(t, got.Provisional)
	assert.True(t, got.Dirty)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(7), got.Items[0].MenuItemID)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.NewFromInt(500)))
	assert.True(t, got.Subtotal().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
}

func TestStore_OrderDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutOrder(ctx, testOrder("local-ord-1")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetOrder(ctx, "local-ord-1")
	require.NoError(t, err)
	assert.Equal(t, pos.EntityID("local-ord-1"), got.ID)
}

func TestStore_GetOrder_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListOrders_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := testOrder("local-ord-1")
	done := testOrder("local-ord-2")
	done.Status = pos.StatusCompleted
	done.Dirty = false
	clean := testOrder("local-ord-3")
	clean.Dirty = false
	clean.Kind = pos.KindDelivery
	clean.Table = pos.TableRef{}

	for _, o := range []pos.Order{open, done, clean} {
		require.NoError(t, s.PutOrder(ctx, o))
	}

	openOnly, err := s.ListOrders(ctx, OrderFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, openOnly, 2)

	dirty, err := s.ListOrders(ctx, OrderFilter{DirtyOnly: true})
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, pos.EntityID("local-ord-1"), dirty[0].ID)

	dineIn, err := s.ListOrders(ctx, OrderFilter{Kind: pos.KindDineIn, OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, dineIn, 1)
	assert.Equal(t, pos.EntityID("local-ord-1"), dineIn[0].ID)

	none, err := s.ListOrders(ctx, OrderFilter{Status: pos.StatusReady})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none, "empty result is a slice, not nil")
}

func TestStore_RenameOrderID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOrder(ctx, testOrder("local-ord-1")))
	require.NoError(t, s.RenameOrderID(ctx, "local-ord-1", "1042"))

	_, err := s.GetOrder(ctx, "local-ord-1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetOrder(ctx, "1042")
	require.NoError(t, err)
	assert.Equal(t, pos.EntityID("1042"), got.ID)

	err = s.RenameOrderID(ctx, "local-gone", "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PruneSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Five synced completed orders, one dirty completed, one open.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		o := testOrder(pos.ServerID(int64(100 + i)))
		o.Status = pos.StatusCompleted
		o.Provisional = false
		o.Dirty = false
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.PutOrder(ctx, o))
	}
	dirtyDone := testOrder("local-dirty")
	dirtyDone.Status = pos.StatusCompleted
	require.NoError(t, s.PutOrder(ctx, dirtyDone))
	require.NoError(t, s.PutOrder(ctx, testOrder("local-open")))

	pruned, err := s.PruneSynced(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	// The two newest synced rows survive, as do the dirty and open ones.
	all, err := s.ListOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = s.GetOrder(ctx, "104")
	assert.NoError(t, err, "newest synced order kept")
	_, err = s.GetOrder(ctx, "100")
	assert.ErrorIs(t, err, ErrNotFound, "oldest synced order pruned")
	_, err = s.GetOrder(ctx, "local-dirty")
	assert.NoError(t, err, "dirty orders are never pruned")
}

func TestStore_ItemCasingNormalizedAtBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a legacy cached row written with camelCase keys and a
	// numeric price.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, kind, items, created_at, updated_at)
		VALUES ('legacy-1', 'dine_in',
			'[{"menuItemId":7,"quantity":2,"unitPrice":500}]',
			'2026-08-01T12:00:00Z', '2026-08-01T12:00:00Z')
	`)
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, "legacy-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(7), got.Items[0].MenuItemID)
	assert.Equal(t, 2, got.Items[0].Qty)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.NewFromInt(500)))
}
