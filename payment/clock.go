package payment

import "time"

// Clock abstracts time for the poller and countdown so that schedules
// can be driven by a simulated clock in tests. The production
// implementation delegates to the time package.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the cancellation handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it ran.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock returns the wall-clock implementation used outside tests.
func SystemClock() Clock { return systemClock{} }
