// Package clock supplies the monotonic time source the dosing engine and
// runner depend on, and its injectable test double. The domain contract is
// deliberately narrow - Now, Sleep, MsSince - and is satisfied by wrapping
// github.com/benbjohnson/clock, the mock-clock library already vendored
// transitively elsewhere in this dependency family, instead of hand-rolling
// a parallel abstraction.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the capability the engine and runner consume. Now is monotonic
// and never decreases; Sleep suspends the calling goroutine; MsSince
// saturates instead of wrapping or going negative.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	MsSince(epoch time.Time) uint64
}

// real wraps clock.New(), the production clock backed by time.Now/time.Sleep.
type real struct {
	c clock.Clock
}

// New returns the production Clock.
func New() Clock {
	return &real{c: clock.New()}
}

func (r *real) Now() time.Time { return r.c.Now() }

func (r *real) Sleep(d time.Duration) { r.c.Sleep(d) }

func (r *real) MsSince(epoch time.Time) uint64 {
	return saturatingMs(r.c.Now().Sub(epoch))
}

// saturatingMs converts a duration to milliseconds, clamping to
// [0, math.MaxUint64] rather than wrapping on negative or overflowing
// input. Elapsed time is never reported negative even if epoch is, for
// any reason, in the future of now.
func saturatingMs(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}
