package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tillfloat/tillsync/internal/pos"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
	"github.com/tillfloat/tillsync/internal/tables"
	"github.com/tillfloat/tillsync/internal/testutil"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRemote is a scripted server. The default script confirms every
// operation, assigning server ids 51, 52, ... and order numbers 1051,
// 1052, ... to creates. Tests override script to inject failures.
type fakeRemote struct {
	mu       sync.Mutex
	calls    []pos.PendingOp
	nextID   int64
	script   func(call int, op pos.PendingOp) (remote.SubmitResult, error)
	snapshot []tables.Reservation
	pingErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextID: 51}
}

func (f *fakeRemote) Do(_ context.Context, op pos.PendingOp) (remote.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.calls)
	f.calls = append(f.calls, op)

	if f.script != nil {
		return f.script(call, op)
	}
	return f.confirm(op)
}

// confirm is the default happy-path answer, also usable from scripts.
func (f *fakeRemote) confirm(op pos.PendingOp) (remote.SubmitResult, error) {
	if !op.Kind.IsCreate() {
		return remote.SubmitResult{}, nil
	}
	id := f.nextID
	f.nextID++
	res := remote.SubmitResult{ID: pos.ServerID(id)}
	if op.Kind == pos.OpCreateOrder {
		res.Number = fmt.Sprintf("%d", 1000+id)
	}
	return res, nil
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) FetchTableSnapshot(context.Context) ([]tables.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, nil
}

func (f *fakeRemote) callPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, op := range f.calls {
		out[i] = op.Method + " " + op.ResolvedPath()
	}
	return out
}

func transportDown(call int, op pos.PendingOp) (remote.SubmitResult, error) {
	return remote.SubmitResult{}, &remote.TransportError{Op: string(op.Kind), Err: fmt.Errorf("connection refused")}
}

func rejectWith(status int, message string) func(int, pos.PendingOp) (remote.SubmitResult, error) {
	return func(_ int, op pos.PendingOp) (remote.SubmitResult, error) {
		return remote.SubmitResult{}, &remote.RejectionError{Op: string(op.Kind), Status: status, Message: message}
	}
}

type testEnv struct {
	engine *Engine
	remote *fakeRemote
	store  *store.Store
	clock  *testutil.ManualClock
	dbPath string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	path := t.TempDir() + "/till.db"
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := newFakeRemote()
	clock := testutil.NewManualClock(testEpoch)
	ids := testutil.NewSequentialIDs()

	base := []Option{
		WithNow(clock.Now),
		WithIDGenerator(ids.Next),
		WithMinSyncGap(0),
	}
	e := New(s, r, append(base, opts...)...)
	require.NoError(t, e.Warm(context.Background()))
	return &testEnv{engine: e, remote: r, store: s, clock: clock, dbPath: path}
}

// dineInDraft is the canonical test order: table 3, two Karahi at 500.
func dineInDraft(table int) pos.Order {
	return pos.Order{
		Kind:  pos.KindDineIn,
		Table: pos.TableAt(table),
		Items: []pos.LineItem{
			{MenuItemID: 7, Name: "Karahi", Qty: 2, UnitPrice: decimalFrom(500)},
		},
	}
}

func takeawayDraft() pos.Order {
	return pos.Order{
		Kind:  pos.KindDineIn,
		Table: pos.Takeaway,
		Items: []pos.LineItem{
			{MenuItemID: 12, Name: "Naan", Qty: 4, UnitPrice: decimalFrom(50)},
		},
	}
}

func decimalFrom(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
