package pos

import (
	"encoding/json"
	"strings"
	"time"
)

// OpKind names a pending server mutation.
type OpKind string

const (
	OpCreateOrder    OpKind = "create_order"
	OpUpdateOrder    OpKind = "update_order"
	OpMarkPaid       OpKind = "mark_paid"
	OpUpdateStatus   OpKind = "update_status"
	OpCancelOrder    OpKind = "cancel_order"
	OpCreateCustomer OpKind = "create_customer"
	OpAddAddress     OpKind = "add_address"
)

// IsCreate reports whether a confirmed operation of this kind yields a
// server identifier that must be reconciled against a provisional one.
func (k OpKind) IsCreate() bool {
	return k == OpCreateOrder || k == OpCreateCustomer
}

// Dispositions recorded on processed pending operations.
const (
	DispositionConfirmed = "confirmed"
	DispositionRejected  = "rejected"
)

// PendingOp is one not-yet-confirmed server mutation in the durable queue.
//
// Each entry is self-contained and replayable: method, endpoint template,
// and payload are resolved at enqueue time. EntityID is the offline linkage
// to the provisional order or customer the operation targets; the sync
// engine rewrites it (and any payload references) when the target's create
// is confirmed, before this entry is ever submitted.
type PendingOp struct {
	ID          int64           `json:"id"`
	Kind        OpKind          `json:"kind"`
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	EntityID    EntityID        `json:"entity_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Disposition string          `json:"disposition,omitempty"`
}

// ResolvedPath substitutes the {id} placeholder with the operation's
// current linkage. Paths without a placeholder are returned unchanged.
func (op PendingOp) ResolvedPath() string {
	return strings.ReplaceAll(op.Path, "{id}", string(op.EntityID))
}

// References reports whether the operation's linkage or payload mentions
// the given entity identifier.
func (op PendingOp) References(id EntityID) bool {
	if op.EntityID == id {
		return true
	}
	return strings.Contains(string(op.Payload), `"`+string(id)+`"`)
}
