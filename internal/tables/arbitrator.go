// Package tables maintains the single logical view of which tables are
// occupied, merged from two sources: the last server-reported snapshot
// (trusted while connectivity is live, kept as a stale-but-usable floor
// while offline) and reservations implied by not-yet-synced local orders.
//
// The arbitrator is owned exclusively by the sync engine. UI code reads
// derived occupancy and issues intents; it never mutates the view directly.
package tables

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tillfloat/tillsync/internal/pos"
)

// ErrTableOccupied is returned by Reserve when the table is already held
// by another order.
var ErrTableOccupied = errors.New("table already occupied")

// Reservation ties an occupied table to its owning order. Orders may be
// known by provisional or server identifier depending on sync state, so
// the order number rides along for self-exclusion checks during edits.
type Reservation struct {
	Table       int          `json:"table"`
	OrderID     pos.EntityID `json:"order_id"`
	OrderNumber string       `json:"order_number,omitempty"`
}

// matches reports whether the reservation belongs to the excluded order,
// by identifier or by order number. An edit may carry either form.
func (r Reservation) matches(ex Exclusion) bool {
	if ex.OrderID != "" && ex.OrderID == r.OrderID {
		return true
	}
	if ex.OrderNumber != "" && ex.OrderNumber == r.OrderNumber {
		return true
	}
	return false
}

// Exclusion identifies an order whose own reservation is ignored during
// an occupancy check (self-exclusion while editing).
type Exclusion struct {
	OrderID     pos.EntityID
	OrderNumber string
}

// Arbitrator is the table occupancy view.
//
// Occupancy is the union of the server snapshot and local claims; within
// each map a table appears at most once, and local claims shadow the
// snapshot for the same table number.
type Arbitrator struct {
	mu     sync.RWMutex
	server map[int]Reservation // last server-reported occupancy
	local  map[int]Reservation // claims from provisional/dirty local orders
}

// New creates an empty arbitrator.
func New() *Arbitrator {
	return &Arbitrator{
		server: make(map[int]Reservation),
		local:  make(map[int]Reservation),
	}
}

// SetServerSnapshot replaces the server-reported occupancy wholesale.
// Local claims are untouched: a snapshot predating an offline order must
// not erase that order's claim.
func (a *Arbitrator) SetServerSnapshot(entries []Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server = make(map[int]Reservation, len(entries))
	for _, r := range entries {
		if r.Table > 0 {
			a.server[r.Table] = r
		}
	}
}

// RebuildFromLocal replaces the local claims from the store's open dine-in
// orders. Used at startup and whenever the device has been offline long
// enough that individual claim tracking may have drifted from the store.
func (a *Arbitrator) RebuildFromLocal(orders []pos.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.local = make(map[int]Reservation, len(orders))
	for _, o := range orders {
		if o.HoldsTable() && (o.Provisional || o.Dirty) {
			a.local[o.Table.Number] = Reservation{
				Table:       o.Table.Number,
				OrderID:     o.ID,
				OrderNumber: o.Number,
			}
		}
	}
}

// IsOccupied reports whether a table is held, optionally excluding one
// order's own reservation (self-exclusion during edit). Table numbers
// that never participate in reservation (takeaway, absent) are the
// caller's to filter; they do not reach the arbitrator.
func (a *Arbitrator) IsOccupied(table int, excluding ...Exclusion) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.occupiedLocked(table, excluding)
}

func (a *Arbitrator) occupiedLocked(table int, excluding []Exclusion) bool {
	check := func(r Reservation, ok bool) bool {
		if !ok {
			return false
		}
		for _, ex := range excluding {
			if r.matches(ex) {
				return false
			}
		}
		return true
	}
	if r, ok := a.local[table]; check(r, ok) {
		return true
	}
	r, ok := a.server[table]
	return check(r, ok)
}

// Reserve claims a table for an order at order-acceptance time. Checking
// and claiming under one lock closes the race between two concurrent
// order attempts for the same table on the same device.
func (a *Arbitrator) Reserve(table int, res Reservation, excluding ...Exclusion) error {
	if table <= 0 {
		return fmt.Errorf("reserve: invalid table %d", table)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.occupiedLocked(table, excluding) {
		return fmt.Errorf("reserve table %d: %w", table, ErrTableOccupied)
	}
	res.Table = table
	a.local[table] = res
	return nil
}

// Release frees a table when its order completes or is cancelled.
// Idempotent: releasing an already-free table is a no-op, not an error.
// Clears both the local claim and the snapshot entry - the server floor
// for a table we just watched terminate is stale by definition.
func (a *Arbitrator) Release(table int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.local, table)
	delete(a.server, table)
}

// ReleaseOwned frees whichever table the given order holds, if any.
// Used when the caller knows the order but not its table.
func (a *Arbitrator) ReleaseOwned(ex Exclusion) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for table, r := range a.local {
		if r.matches(ex) {
			delete(a.local, table)
			delete(a.server, table)
		}
	}
	for table, r := range a.server {
		if r.matches(ex) {
			delete(a.server, table)
		}
	}
}

// Rename updates the owning identity of an order's claim after identity
// reconciliation assigns its server identifier and number.
func (a *Arbitrator) Rename(oldID pos.EntityID, res Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for table, r := range a.local {
		if r.OrderID == oldID {
			a.local[table] = Reservation{
				Table:       table,
				OrderID:     res.OrderID,
				OrderNumber: res.OrderNumber,
			}
		}
	}
}

// Occupied returns the merged occupancy view sorted by table number.
// Local claims shadow snapshot entries for the same table.
func (a *Arbitrator) Occupied() []Reservation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	merged := make(map[int]Reservation, len(a.server)+len(a.local))
	for t, r := range a.server {
		merged[t] = r
	}
	for t, r := range a.local {
		merged[t] = r
	}

	out := make([]Reservation, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
