package clock

import "sync/atomic"

// AtomicClock is a deterministic clock: every call to Now returns the
// previous value plus one. Useful for tests that need reproducible
// timestamps.
type AtomicClock struct {
	atomic.Int64
}

func NewAtomic(init int64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Now() int64 {
	return ac.Add(1)
}

func (ac *AtomicClock) Val() int64 {
	return ac.Load()
}

func (ac *AtomicClock) Set(t int64) {
	ac.Store(t)
}
