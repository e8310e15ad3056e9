package dosing

import (
	"time"

	"github.com/cesuratx/doser/pkg/types"
)

// SafetyWatchdog evaluates the four abort conditions in the fixed order
// the control loop requires: E-stop, max runtime, overshoot, no-progress.
// The first condition that holds wins; callers must not reorder the
// checks or skip any of them.
type SafetyWatchdog struct {
	estopDebounceN int
	estopCounter   int
	estopLatched   bool

	maxRunMs            uint64
	maxOvershootCg      types.Centigrams
	noProgressEpsilonCg types.Centigrams
	noProgressMs        uint64

	haveRef bool
	tRef    time.Duration
	wRef    types.Centigrams
}

// NewSafetyWatchdog builds a watchdog from its configured thresholds.
func NewSafetyWatchdog(estopDebounceN int, maxRunMs uint64, maxOvershootCg, noProgressEpsilonCg types.Centigrams, noProgressMs uint64) *SafetyWatchdog {
	return &SafetyWatchdog{
		estopDebounceN:      estopDebounceN,
		maxRunMs:            maxRunMs,
		maxOvershootCg:      maxOvershootCg,
		noProgressEpsilonCg: noProgressEpsilonCg,
		noProgressMs:        noProgressMs,
	}
}

// Reset clears all latched and tracked state; called on engine begin().
// The E-stop latch is the one condition that survives only until the next
// Reset, per spec: once set it cannot clear mid-run.
func (s *SafetyWatchdog) Reset() {
	s.estopCounter = 0
	s.estopLatched = false
	s.haveRef = false
	s.tRef = 0
	s.wRef = 0
}

// Evaluate runs the four checks in order against the current step's
// reading. motorRunningContinuously reports whether the motor has been
// commanded to run (as opposed to stopped for predicted-stop or settling)
// since the last no-progress reference point; when false the no-progress
// check is disarmed for this step.
func (s *SafetyWatchdog) Evaluate(now time.Duration, w, target types.Centigrams, estopAsserted, motorRunningContinuously bool) (bool, AbortReason) {
	if estopAsserted {
		s.estopCounter++
	}
	if s.estopCounter >= s.estopDebounceN {
		s.estopLatched = true
	}
	if s.estopLatched {
		return true, EstopAbort()
	}

	if uint64(now.Milliseconds()) >= s.maxRunMs {
		return true, MaxRuntimeAbort()
	}

	if w > target+s.maxOvershootCg {
		return true, OvershootAbort()
	}

	if !s.haveRef {
		s.haveRef = true
		s.tRef, s.wRef = now, w
	} else if (w - s.wRef).Abs() >= s.noProgressEpsilonCg {
		s.tRef, s.wRef = now, w
	} else if motorRunningContinuously {
		if uint64((now - s.tRef).Milliseconds()) >= s.noProgressMs {
			return true, NoProgressAbort()
		}
	}

	return false, AbortReason{}
}
