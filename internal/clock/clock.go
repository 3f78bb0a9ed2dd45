// Package clock owns the named-timer seam used by polling sessions.
//
// Ownership boundary:
// - delayed callbacks that can be stopped before they fire
// - wall clock reads for metrics and idle sweeps
//
// System is backed by time.AfterFunc. Manual is a deterministic clock for tests.
package clock

import "time"

// Timer is one pending delayed callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false when the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemClock struct{}

// System returns the process clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) Now() time.Time {
	return time.Now()
}
