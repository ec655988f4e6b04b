package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock hands out transaction ids.
//
// Ids are strictly increasing and dense across successful submissions.
// Submit calls Next under the submit mutex, so queue order equals id order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first id is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, the last id in the log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next transaction id.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last id handed out, without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// TimeSource supplies wall-clock time for transaction stamps and for the
// default valid time of views.
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the system clock.
type SystemTime struct{}

// Now returns the current UTC time without its monotonic reading.
func (SystemTime) Now() time.Time {
	return time.Now().UTC().Round(0)
}

// txClock turns a TimeSource into strictly increasing transaction times.
// When the source stalls or steps backward, the next stamp is the previous
// one plus a nanosecond.
type txClock struct {
	mu   sync.Mutex
	src  TimeSource
	last time.Time
}

func newTxClock(src TimeSource, last time.Time) *txClock {
	return &txClock{src: src, last: last.UTC()}
}

func (c *txClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.src.Now().UTC().Round(0)
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
