package pos

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks locally-minted identifiers awaiting reconciliation.
const ProvisionalPrefix = "local-"

// EntityID identifies an order or customer.
//
// Server-issued identifiers are decimal integers rendered as strings
// ("1042"). Provisional identifiers are "local-" + UUIDv7, minted while the
// device cannot reach the server. UUIDv7 embeds a timestamp, so provisional
// identifiers sort by creation time, which keeps diagnostic listings legible.
type EntityID string

// NewProvisionalID mints a provisional identifier.
//
// Panics if UUID generation fails (should never happen in practice).
func NewProvisionalID() EntityID {
	return EntityID(ProvisionalPrefix + uuid.Must(uuid.NewV7()).String())
}

// IsProvisional reports whether the identifier is locally minted.
func (id EntityID) IsProvisional() bool {
	return strings.HasPrefix(string(id), ProvisionalPrefix)
}

// ServerInt returns the server-issued integer form of the identifier.
// Returns (0, false) for provisional or malformed identifiers.
func (id EntityID) ServerInt() (int64, bool) {
	if id.IsProvisional() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ServerID builds an EntityID from a server-issued integer.
func ServerID(n int64) EntityID {
	return EntityID(strconv.FormatInt(n, 10))
}

func (id EntityID) String() string { return string(id) }

// IDGenerator mints provisional entity identifiers.
// Implemented by NewProvisionalID (production) and fixed sequences (tests).
type IDGenerator func() EntityID
