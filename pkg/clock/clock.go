// Package clock produces the logical timestamps that order versions of a key.
package clock

import (
	"sync"
	"time"
)

const nanosPerMilli = 1_000_000

// Clock hands out strictly increasing timestamps.
type Clock interface {
	Now() int64
}

// Monotonic derives timestamps from wall-clock milliseconds, counting up
// within the same millisecond. It never returns a value less than or equal
// to one it has already returned, even if the counter runs past the
// millisecond or the wall clock steps back.
type Monotonic struct {
	mu         sync.Mutex
	lastMillis int64
	counter    int64
	last       int64

	wall func() int64
}

func NewMonotonic() *Monotonic {
	return &Monotonic{
		wall: func() int64 { return time.Now().UnixMilli() },
	}
}

func (m *Monotonic) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	millis := m.wall()
	if millis != m.lastMillis {
		m.lastMillis = millis
		m.counter = 0
	}

	ts := m.lastMillis*nanosPerMilli + m.counter
	m.counter++
	if ts <= m.last {
		ts = m.last + 1
	}
	m.last = ts

	return ts
}

var (
	defaultOnce  sync.Once
	defaultClock *Monotonic
)

// Default returns the process-wide Monotonic clock.
func Default() *Monotonic {
	defaultOnce.Do(func() {
		defaultClock = NewMonotonic()
	})
	return defaultClock
}
