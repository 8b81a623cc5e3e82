package engine

import "time"

// Clock abstracts time so cooldowns, active-hours windows and session
// expiry are testable.
type Clock interface {
	Now() time.Time
	Sleep(ctx sleepContext, d time.Duration)
}

type sleepContext interface {
	Done() <-chan struct{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx sleepContext, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
