package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Virtual is the injectable test clock. It advances only when Advance is
// called explicitly, or when a blocked Sleep is released by another
// goroutine's Advance - it never tracks wall-clock time. Multiple handles
// returned by the same Virtual share the same underlying mock, so a clock
// captured by the engine and a clock driving a test's background goroutine
// observe the same time.
type Virtual struct {
	m *clock.Mock
}

// NewVirtual returns a new Virtual clock, initialized to the Unix epoch
// (benbjohnson/clock.Mock's zero time) unless Set is called.
func NewVirtual() *Virtual {
	return &Virtual{m: clock.NewMock()}
}

// Now implements Clock.
func (v *Virtual) Now() time.Time { return v.m.Now() }

// Sleep implements Clock. It blocks until the Virtual's time has advanced
// at least d past the current instant, via Advance or Set called from
// another goroutine.
func (v *Virtual) Sleep(d time.Duration) { v.m.Sleep(d) }

// MsSince implements Clock, saturating rather than going negative.
func (v *Virtual) MsSince(epoch time.Time) uint64 {
	return saturatingMs(v.m.Now().Sub(epoch))
}

// Advance moves the virtual clock forward by d, waking any goroutines
// blocked in Sleep whose deadline has now passed.
func (v *Virtual) Advance(d time.Duration) { v.m.Add(d) }

// Set moves the virtual clock to an absolute instant. Used to reset a
// Virtual to a known epoch before a deterministic test run.
func (v *Virtual) Set(t time.Time) { v.m.Set(t) }
