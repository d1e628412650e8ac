// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for
// testability.
//
// The readiness poller waits a minimum interval between probe
// attempts; tests of that behavior must not depend on wall-clock
// sleeps. Production code accepts a Clock parameter instead of calling
// time.Now, time.After, or time.Sleep directly. Real() provides the
// standard library behavior; Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// When a goroutine calls Sleep or After on a FakeClock, it registers a
// pending waiter. Use WaitForTimers to block until a specific number
// of waiters are registered before calling Advance — this eliminates
// the race between waiter registration and time advancement that
// plagues tests built on time.Sleep.
package clock

import "time"

// Clock abstracts the time operations Periscope uses. Production code
// injects Real(); tests inject Fake() with deterministic time control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
