package helpers

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source for deterministic timer
// testing
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned to a fixed instant
func NewClock() *Clock {
	return &Clock{
		now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Now returns the clock's current instant
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
