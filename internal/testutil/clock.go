package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a SteppingClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SteppingClock is a deterministic time source for tests.
//
// Every call to Now returns the current time and then advances it by the
// step, so consecutive transactions get distinct, predictable tx times.
// Unlike the system clock, a SteppingClock can be set and reset, which lets
// the same scenario run twice with identical tx times.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SteppingClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewSteppingClock creates a clock starting at start and advancing by step
// on every read. A zero start means Epoch; a zero step means one second.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	if start.IsZero() {
		start = Epoch
	}
	if step == 0 {
		step = time.Second
	}
	start = start.UTC()
	return &SteppingClock{start: start, now: start, step: step}
}

// Now returns the current time and advances the clock by one step.
//
// Implements engine.TimeSource.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return.
func (c *SteppingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; the engine keeps
// tx times increasing regardless.
func (c *SteppingClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d without a read.
func (c *SteppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to its start.
func (c *SteppingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
