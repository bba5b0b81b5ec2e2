package callctl

import "time"

// Clock abstracts wall-clock time and timer construction so the connect
// watchdog and the ICE-gathering settle timer can be driven deterministically
// in tests, instead of sleeping in real time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of time.Timer the controller needs.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct{}

// RealClock is the production Clock backed by the time package.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool                { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
