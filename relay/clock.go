package relay

import "time"

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Clock supplies the relay's notion of time. Tests substitute a manual one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
