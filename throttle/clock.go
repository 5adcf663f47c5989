package throttle

import "time"

// Clock is the time source consulted for the refractory window.
type Clock interface {
	Now() time.Time
}

// Timer arranges a single deferred callback.
type Timer interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a callback armed by a [Timer]. Stopping a callback that
// already ran or was already stopped reports false and is otherwise a no-op.
type Stopper interface {
	Stop() bool
}

// Real is the wall-clock [Clock] and [Timer], backed by [time.Now] and
// [time.AfterFunc].
var Real realClock

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
