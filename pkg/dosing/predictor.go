// Package dosing implements the closed-loop mass-dosing controller: the
// predictor, safety watchdogs, control law, and the engine state machine
// that ties calibration, filtering, and slope estimation together into a
// single sample-to-actuation decision each tick.
package dosing

import (
	"github.com/cesuratx/doser/pkg/system/slope"
	"github.com/cesuratx/doser/pkg/types"
)

// Predictor forecasts whether the in-flight mass (mass already dispensed
// but not yet sensed, inferred from the current slope and the configured
// extra latency) will carry the reading to target before the next sample
// arrives, letting the engine stop the motor early rather than overshoot.
type Predictor struct {
	enabled          bool
	extraLatencyMs   uint64
	minProgressRatio float64
}

// NewPredictor builds a Predictor from its three tunables. window is owned
// by the slope.Estimator that feeds it and is not stored here.
func NewPredictor(enabled bool, extraLatencyMs uint64, minProgressRatio float64) *Predictor {
	return &Predictor{
		enabled:          enabled,
		extraLatencyMs:   extraLatencyMs,
		minProgressRatio: minProgressRatio,
	}
}

// Evaluate returns whether the engine should transition to predicted-stop
// this step, given the current reading w, the target, and the current
// slope estimate. It is inactive (always false) until enabled and the
// measured progress ratio w/target has reached minProgressRatio; this
// guards against a noisy early slope estimate forecasting a stop before
// there is a meaningful in-flight quantity to speak of.
func (p *Predictor) Evaluate(w, target types.Centigrams, slopeEma slope.CgPerSecond, epsilon types.Centigrams) (stop bool, inflight types.Centigrams) {
	if !p.enabled || target <= 0 {
		return false, 0
	}
	progressRatio := float64(w) / float64(target)
	if progressRatio < p.minProgressRatio {
		return false, 0
	}

	s := float64(slopeEma)
	if s < 0 {
		s = 0
	}
	inflightCg := s * float64(p.extraLatencyMs) / 1000
	inflight = types.Centigrams(inflightCg)
	predicted := w + inflight

	return predicted+epsilon >= target, inflight
}
