package internal

import "time"

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler abstracts wall-clock timers so expiry and bounded waits can be
// driven deterministically in tests
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler uses the time package
type SystemScheduler struct{}

// Now returns time.Now()
func (SystemScheduler) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
