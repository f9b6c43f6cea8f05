package mqttd

import "time"

// Timer is a pending one-shot callback created by a Clock.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer already fired
	// or was already stopped.
	Stop() bool
}

// Clock schedules callbacks. The keep-alive supervisor takes a Clock so that
// tests can drive time by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock is the wall clock.
type realClock struct{}

// NewRealClock returns a Clock backed by the time package.
func NewRealClock() Clock {
	return realClock{}
}

// Now returns the current time.
func (realClock) Now() time.Time {
	return time.Now()
}

// AfterFunc calls f in its own goroutine after d.
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
