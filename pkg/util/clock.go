package util

import (
	"sync/atomic"
	"time"
)

// Clock abstracts time so engine behavior stays deterministic under test.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ManualClock ticks forward one nanosecond per Now call, so successive
// timestamps are strictly increasing and fully deterministic. Test helper.
type ManualClock struct {
	base time.Time
	seq  atomic.Int64
}

func NewManualClock(base time.Time) *ManualClock {
	return &ManualClock{base: base}
}

func (c *ManualClock) Now() time.Time {
	return c.base.Add(time.Duration(c.seq.Add(1)))
}
