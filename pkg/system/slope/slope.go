// Package slope implements the engine's first-derivative-of-mass
// estimator: an exponential moving average of instantaneous cg/s slope,
// computed from a time-weighted first difference rather than a plain
// per-sample average.
package slope

import (
	"time"

	"github.com/cesuratx/doser/pkg/types"
)

// CgPerSecond is the slope unit. It is a distinct named type (rather than
// a bare float64) so that the predictor and control law consume a typed
// value through their normal signatures; it is converted to a plain
// float64 only at the telemetry/JSON export boundary.
type CgPerSecond float64

// Estimator computes the EMA of first differences in the (time, mass)
// stream, using alpha = 2/(window+1) as specified. Before `window` samples
// have been observed it reports zero.
type Estimator struct {
	window int
	alpha  float64

	have  bool
	lastT time.Duration
	lastW types.Centigrams
	n     int
	ema   CgPerSecond
}

// NewEstimator returns an Estimator over the given window (>= 1).
func NewEstimator(window int) *Estimator {
	if window < 1 {
		window = 1
	}
	return &Estimator{
		window: window,
		alpha:  2.0 / (float64(window) + 1),
	}
}

// Update records a new (t, w) sample, relative to the engine's monotonic
// epoch, and returns the current slope estimate. The very first sample
// has no prior point to difference against and always returns zero.
func (e *Estimator) Update(t time.Duration, w types.Centigrams) CgPerSecond {
	if !e.have {
		e.have = true
		e.lastT, e.lastW = t, w
		return 0
	}

	dt := t - e.lastT
	if dt < time.Millisecond {
		dt = time.Millisecond
	}
	instCgPerSec := float64(w-e.lastW) * 1000 / float64(dt.Milliseconds())

	e.lastT, e.lastW = t, w
	e.n++
	e.ema = CgPerSecond(e.alpha*instCgPerSec + (1-e.alpha)*float64(e.ema))

	if e.n < e.window {
		return 0
	}
	return e.ema
}

// Reset clears all observed history, as happens at engine begin().
func (e *Estimator) Reset() {
	e.have = false
	e.n = 0
	e.ema = 0
}

// Current returns the last computed estimate without recording a new
// sample, honoring the same pre-window-fill zero as Update.
func (e *Estimator) Current() CgPerSecond {
	if e.n < e.window {
		return 0
	}
	return e.ema
}
