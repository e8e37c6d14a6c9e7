package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping emitted events.
//
// Every event carries a strictly increasing seq so downstream consumers can
// order events without trusting wall clocks. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current position without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
