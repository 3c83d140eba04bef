package usecase

import (
	"sync"
	"time"
)

// Cadence gates a sub-task that should run less often than the main cycle.
type Cadence struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewCadence(interval time.Duration) *Cadence {
	return &Cadence{interval: interval}
}

// Due reports whether the task should run at now and, if so, marks it as run.
// The first call is always due.
func (c *Cadence) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.IsZero() && now.Sub(c.last) < c.interval {
		return false
	}
	c.last = now
	return true
}

func (c *Cadence) Last() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
