package turn

import "time"

// Timer is the stoppable handle of a scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and deadline timers so retry and timeout behavior
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
