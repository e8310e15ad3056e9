package dosing

import (
	"fmt"
	"sync"
	"time"

	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/system/clock"
	"github.com/cesuratx/doser/pkg/system/hardware"
)

// ErrAlreadyRunning is returned by Runner.Run when the sensor/actuator pair
// is already bound to an in-flight run.
var ErrAlreadyRunning = fmt.Errorf("dosing: runner already running for this sensor/actuator pair")

// pairKey identifies a sensor/actuator pair for the single-run guard.
// Interface values holding pointers compare equal iff the underlying
// pointers match, which is exactly the "same physical pair" test this
// guard needs.
type pairKey struct {
	sensor   hardware.Sensor
	actuator hardware.Actuator
}

var (
	activeRunsMu sync.Mutex
	activeRuns   = map[pairKey]struct{}{}
)

func acquirePair(k pairKey) error {
	activeRunsMu.Lock()
	defer activeRunsMu.Unlock()
	if _, busy := activeRuns[k]; busy {
		return ErrAlreadyRunning
	}
	activeRuns[k] = struct{}{}
	return nil
}

func releasePair(k pairKey) {
	activeRunsMu.Lock()
	defer activeRunsMu.Unlock()
	delete(activeRuns, k)
}

// Runner drives an Engine to completion at a fixed cadence, in either
// Direct mode (synchronous sensor reads on the runner's own goroutine) or
// Sampler mode (reads from a background Sampler, draining backlog and
// keeping only the newest sample each tick). It runs its own stall
// watchdog independent of the engine's no-progress check, and guarantees
// a single stop() on every exit path, including a panic unwinding
// through Run.
type Runner struct {
	engine  *Engine
	sampler *Sampler
	clk     clock.Clock

	mode       config.RunnerMode
	tickPeriod time.Duration
	stallAfter time.Duration

	pair pairKey
}

// RunnerOption configures NewRunner beyond the required engine/sensor pair.
type RunnerOption func(*Runner)

// WithRunnerClock overrides the runner's own clock (defaults to the
// production clock); tests inject a virtual clock here so the stall
// watchdog advances deterministically alongside the engine's.
func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clk = c }
}

// NewRunner builds a Runner for an already-constructed Engine. sensor and
// actuator are the same instances the engine/sampler were built with; they
// key the single-run-per-pair guard. tickPeriod is the loop cadence
// (1/sample_rate_hz); sensorReadTimeout feeds the stall watchdog's bound
// (max(2*sample_period, sensor_read_timeout)).
func NewRunner(engine *Engine, sensor hardware.Sensor, actuator hardware.Actuator, mode config.RunnerMode, tickPeriod, sensorReadTimeout time.Duration, sampler *Sampler, opts ...RunnerOption) *Runner {
	stall := 2 * tickPeriod
	if sensorReadTimeout > stall {
		stall = sensorReadTimeout
	}
	r := &Runner{
		engine:     engine,
		sampler:    sampler,
		clk:        clock.New(),
		mode:       mode,
		tickPeriod: tickPeriod,
		stallAfter: stall,
		pair:       pairKey{sensor: sensor, actuator: actuator},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the engine to a terminal state and returns the final
// StepResult. It refuses to start a second concurrent run against the same
// sensor/actuator pair, and guarantees the actuator is stopped exactly
// once along every exit path - normal completion, abort, or a recovered
// panic, which is returned as a Hardware abort result rather than propagated.
func (r *Runner) Run() (result StepResult, err error) {
	if err := acquirePair(r.pair); err != nil {
		return StepResult{}, err
	}
	defer releasePair(r.pair)

	defer r.engine.Drop()
	defer func() {
		if p := recover(); p != nil {
			result = StepResult{Status: StatusAborted, Reason: HardwareAbort(fmt.Sprintf("panic: %v", p))}
		}
	}()

	r.engine.Begin()
	if r.sampler != nil {
		defer r.sampler.Stop(r.stallAfter)
	}

	lastSampleAt := r.clk.Now()

	for {
		r.clk.Sleep(r.tickPeriod)

		var res StepResult
		switch r.mode {
		case config.RunnerModeDirect:
			res = r.engine.Step(nil)
			lastSampleAt = r.clk.Now()
		default:
			raw, gotSample := r.drainLatest()
			if gotSample {
				lastSampleAt = r.clk.Now()
				res = r.engine.Step(&raw)
			} else if r.engine.State() == StateRunning || r.engine.State() == StateSettling {
				if msg, panicked := r.sampler.WorkerPanic(); panicked {
					return r.engine.abort(HardwareAbort(fmt.Sprintf("sampler worker panic: %s", msg))), nil
				}
				if r.clk.Now().Sub(lastSampleAt) >= r.stallAfter {
					return r.abortStalled(), nil
				}
				continue
			} else {
				continue
			}
		}

		if res.Status != StatusRunning {
			return res, nil
		}
	}
}

// drainLatest empties the sampler's channel, keeping only the most recent
// raw count, so a slow consumer never falls behind a fast producer.
func (r *Runner) drainLatest() (int64, bool) {
	var latest int64
	got := false
	for {
		select {
		case raw := <-r.sampler.Samples():
			latest = raw
			got = true
		default:
			return latest, got
		}
	}
}

// abortStalled drives the engine itself into the Aborted(Timeout) state -
// not just the runner's return value - so State()/AbortReason() observed
// by a caller afterward agree with the StepResult handed back here.
func (r *Runner) abortStalled() StepResult {
	return r.engine.abort(TimeoutAbort())
}
