package testutil

import (
	"sync"
	"time"
)

// ManualClock is a thread-safe controllable time source for tests.
//
// Wire its Now method in with engine.WithNow or queue.WithNow; advance it
// explicitly to cross minimum-gap and interval boundaries. The same
// scenario with the same advances produces byte-identical timestamps,
// which keeps golden snapshots stable.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at the given instant.
func NewManualClock(at time.Time) *ManualClock {
	return &ManualClock{now: at}
}

// Now returns the current frozen instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and returns the new instant.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to an absolute instant. Used for test reuse.
func (c *ManualClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
