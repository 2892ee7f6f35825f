package control

import "sync"

// Callback receives the running total after every increment. It runs while
// the counter lock is held, so totals it observes are never stale.
type Callback func(worker int, totalBits int64)

// Counter is a bit counter shared by every worker of one throughput pass.
// A single mutex covers both the increment and the callback.
type Counter struct {
	mu       sync.Mutex
	bits     int64
	callback Callback
}

func NewCounter() *Counter {
	return &Counter{}
}

// Reset zeroes the counter and installs the callback for the next pass.
func (c *Counter) Reset(callback Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits = 0
	c.callback = callback
}

func (c *Counter) Add(worker int, delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits += delta
	if c.callback != nil {
		c.callback(worker, c.bits)
	}
	return c.bits
}

func (c *Counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bits
}
