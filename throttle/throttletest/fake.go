// Package throttletest provides a manually driven clock and timer for
// deterministic tests of code built on the throttle package.
package throttletest

import (
	"slices"
	"sync"
	"time"

	"github.com/adamwoolhether/refractory/throttle"
)

// Fake is a [throttle.Clock] and [throttle.Timer] whose time only moves
// when told to. Callbacks run synchronously from [Fake.Advance], never
// while the fake's own lock is held, so they may call back into the fake.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*timer
	seq     uint64
	counted counters
}

type counters struct {
	scheduled int
	stopped   int
	fired     int
	maxArmed  int
}

type timer struct {
	fake     *Fake
	deadline time.Time
	seq      uint64
	fn       func()
}

// NewFake returns a Fake reading start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// AfterFunc arms fn to run once the fake has been advanced by d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) throttle.Stopper {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &timer{
		fake:     f,
		deadline: f.now.Add(d),
		seq:      f.seq,
		fn:       fn,
	}
	f.timers = append(f.timers, t)
	f.counted.scheduled++
	f.counted.maxArmed = max(f.counted.maxArmed, len(f.timers))

	return t
}

// Stop disarms the timer, reporting whether it was still armed.
func (t *timer) Stop() bool {
	f := t.fake
	f.mu.Lock()
	defer f.mu.Unlock()

	i := slices.Index(f.timers, t)
	if i < 0 {
		return false
	}
	f.timers = slices.Delete(f.timers, i, i+1)
	f.counted.stopped++

	return true
}

// Advance moves time forward by d. Every timer falling due on the way fires
// in deadline order, with the clock set to its deadline while it runs.
// Timers armed by those callbacks fire too if they fall due before the end.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	end := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(end)
		if next == nil {
			f.now = end
			f.mu.Unlock()
			return
		}
		f.timers = slices.DeleteFunc(f.timers, func(t *timer) bool { return t == next })
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		f.counted.fired++
		f.mu.Unlock()

		next.fn()
	}
}

// Skew moves time forward by d without firing anything, as if the timer
// goroutine were running late.
func (f *Fake) Skew(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

// Armed reports how many timers are currently armed.
func (f *Fake) Armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.timers)
}

// MaxArmed reports the largest number of timers ever armed at once.
func (f *Fake) MaxArmed() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counted.maxArmed
}

// Scheduled reports how many timers have been armed in total.
func (f *Fake) Scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counted.scheduled
}

// Stopped reports how many armed timers were stopped before firing.
func (f *Fake) Stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counted.stopped
}

// Fired reports how many timers have fired.
func (f *Fake) Fired() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counted.fired
}

// nextDue returns the earliest timer due at or before end. Callers must hold f.mu.
func (f *Fake) nextDue(end time.Time) *timer {
	var next *timer
	for _, t := range f.timers {
		if t.deadline.After(end) {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) ||
			(t.deadline.Equal(next.deadline) && t.seq < next.seq) {
			next = t
		}
	}

	return next
}
