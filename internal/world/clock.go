package world

import "sync"

// Clock owns simulated time: monotonically increasing seconds, advanced
// only by the host's tick loop. Everything that stamps t_sim reads it from
// here instead of a process global.
type Clock struct {
	mu   sync.RWMutex
	tSim float64
}

// NewClock starts simulated time at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Advance moves simulated time forward by dt seconds. Non-positive deltas
// are ignored so the clock can never run backwards.
func (c *Clock) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	c.mu.Lock()
	c.tSim += dt
	c.mu.Unlock()
}

// Now returns the simulated time in seconds.
func (c *Clock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tSim
}
