package testutil

import (
	"fmt"
	"sync"

	"github.com/tillfloat/tillsync/internal/pos"
)

// SequentialIDs hands out deterministic provisional identifiers:
// "local-p1", "local-p2", and so on.
//
// Unlike the production UUIDv7 generator, the sequence is predictable, so
// tests and golden snapshots can name the identities they expect.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu sync.Mutex
	n  int
}

// NewSequentialIDs creates a generator starting at "local-p1".
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Next mints the next identifier in the sequence.
// Satisfies pos.IDGenerator when passed as ids.Next.
func (g *SequentialIDs) Next() pos.EntityID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return pos.EntityID(fmt.Sprintf("%sp%d", pos.ProvisionalPrefix, g.n))
}
