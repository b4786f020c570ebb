// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import "time"

// Clock supplies monotonic timestamps so the store stays testable without
// real time.
type Clock interface {
	// ElapsedMS returns milliseconds of monotonic time since an arbitrary
	// fixed origin (typically process start).
	ElapsedMS() int64

	// UptimeMS returns milliseconds the system has been awake. This
	// implementation has no suspend awareness, so it tracks ElapsedMS.
	UptimeMS() int64
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock backed by the runtime monotonic clock,
// with its origin at the moment of construction.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) ElapsedMS() int64 {
	return time.Since(c.start).Milliseconds()
}

func (c *monotonicClock) UptimeMS() int64 {
	return c.ElapsedMS()
}
