package dosing

import (
	"errors"
	"time"

	"github.com/cesuratx/doser/pkg/calibration"
	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/system/clock"
	"github.com/cesuratx/doser/pkg/system/filter"
	"github.com/cesuratx/doser/pkg/system/hardware"
	"github.com/cesuratx/doser/pkg/system/slope"
	"github.com/cesuratx/doser/pkg/types"
)

// State is the engine's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSettling
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateSettling:
		return "Settling"
	case StateComplete:
		return "Complete"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Status is the per-step outcome reported to the caller.
type Status int

const (
	StatusRunning Status = iota
	StatusComplete
	StatusAborted
)

// StepResult is the return value of Engine.Step.
type StepResult struct {
	Status Status
	Reason AbortReason // valid only when Status == StatusAborted
}

// Engine is the dosing state machine tying the calibration, filter, slope,
// predictor, safety, and control-law components together behind a single
// Step entry point.
type Engine struct {
	clk      clock.Clock
	sensor   hardware.Sensor
	actuator hardware.Actuator
	estop    hardware.EstopInput
	calib    calibration.Calibration

	median   *filter.Median
	ma       *filter.MovingAverage
	slopeEst *slope.Estimator
	predict  *Predictor
	safety   *SafetyWatchdog
	control  *ControlLaw
	seq      *MotorSequencer

	targetCg          types.Centigrams
	hysteresisCg      types.Centigrams
	epsilonCg         types.Centigrams
	stableMs          time.Duration
	sensorReadTimeout time.Duration

	state       State
	epoch       time.Time
	settleStart time.Duration
	stopAtCg    types.Centigrams

	lastW           types.Centigrams
	lastSlopeEma    slope.CgPerSecond
	predictedStopCg types.Centigrams
	inflightAtStop  types.Centigrams
	abortReason     AbortReason
}

// Begin transitions the engine from Idle (or a prior terminal state) to
// Running, resetting watchdog counters, the E-stop latch, slope/filter
// history, and capturing a fresh monotonic epoch.
func (e *Engine) Begin() {
	e.epoch = e.clk.Now()
	e.state = StateRunning
	e.median.Reset()
	e.ma.Reset()
	e.slopeEst.Reset()
	e.safety.Reset()
	e.seq.Reset()
	e.settleStart = 0
	e.stopAtCg = 0
	e.lastW = 0
	e.lastSlopeEma = 0
	e.predictedStopCg = 0
	e.inflightAtStop = 0
	e.abortReason = AbortReason{}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// FinalCg returns the most recently observed filtered reading.
func (e *Engine) FinalCg() types.Centigrams { return e.lastW }

// SlopeEma returns the last computed slope estimate, as an exported f64
// for telemetry (see pkg/system/slope's internal-vs-export distinction).
func (e *Engine) SlopeEma() float64 { return float64(e.lastSlopeEma) }

// StopAtCg returns the reading recorded at the moment the motor was
// commanded to stop (zero if the motor never ran).
func (e *Engine) StopAtCg() types.Centigrams { return e.stopAtCg }

// PredictedStopCg and InflightAtStopCg report the predictor's forecast at
// the moment it fired (zero if the predictor never triggered the stop).
func (e *Engine) PredictedStopCg() types.Centigrams { return e.predictedStopCg }
func (e *Engine) InflightAtStopCg() types.Centigrams { return e.inflightAtStop }

// AbortReason returns the terminal abort cause; only meaningful once
// State() == StateAborted.
func (e *Engine) AbortReason() AbortReason { return e.abortReason }

// Step advances the engine by one sample. raw is the externally-acquired
// raw sensor count (Sampler mode); pass nil to read synchronously via the
// sensor (Direct mode). Step is idempotent once terminal: it returns the
// same result without touching hardware again.
func (e *Engine) Step(raw *int64) StepResult {
	if e.state == StateComplete {
		return StepResult{Status: StatusComplete}
	}
	if e.state == StateAborted {
		return StepResult{Status: StatusAborted, Reason: e.abortReason}
	}

	rawCount, err := e.acquire(raw)
	if err != nil {
		return e.abort(e.classifySensorError(err))
	}

	wCg := e.calib.RawToCg(rawCount)
	wCg = types.Centigrams(e.median.Push(int64(wCg)))
	wCg = types.Centigrams(e.ma.Push(int64(wCg)))
	e.lastW = wCg

	elapsed := e.clk.Now().Sub(e.epoch)
	e.lastSlopeEma = e.slopeEst.Update(elapsed, wCg)

	estopAsserted := false
	if e.estop != nil {
		asserted, err := e.estop.Asserted()
		if err != nil {
			return e.abort(HardwareAbort(err.Error()))
		}
		estopAsserted = asserted
	}

	motorRunningContinuously := e.state == StateRunning
	if aborted, reason := e.safety.Evaluate(elapsed, wCg, e.targetCg, estopAsserted, motorRunningContinuously); aborted {
		return e.abort(reason)
	}

	switch e.state {
	case StateRunning:
		e.stepRunning(wCg, elapsed)
	case StateSettling:
		if e.stepSettling(wCg, elapsed) {
			return StepResult{Status: StatusComplete}
		}
	}

	return StepResult{Status: StatusRunning}
}

func (e *Engine) acquire(raw *int64) (int64, error) {
	if raw != nil {
		return *raw, nil
	}
	return e.sensor.Read(e.sensorReadTimeout)
}

func (e *Engine) classifySensorError(err error) AbortReason {
	if errors.Is(err, hardware.ErrTimeout) {
		return TimeoutAbort()
	}
	return HardwareAbort(err.Error())
}

func (e *Engine) stepRunning(wCg types.Centigrams, elapsed time.Duration) {
	errCg := e.targetCg - wCg
	decision := e.control.Decide(errCg)

	if !decision.Stop {
		if stop, inflight := e.predict.Evaluate(wCg, e.targetCg, e.lastSlopeEma, e.epsilonCg); stop {
			decision = ControlDecision{Stop: true}
			e.predictedStopCg = wCg + inflight
			e.inflightAtStop = inflight
		}
	}

	_ = e.seq.Apply(decision)

	if decision.Stop {
		e.state = StateSettling
		e.settleStart = elapsed
		e.stopAtCg = wCg
	}
}

// stepSettling returns true when the dose has just completed.
func (e *Engine) stepSettling(wCg types.Centigrams, elapsed time.Duration) bool {
	_ = e.seq.Apply(ControlDecision{Stop: true})

	inBand := (e.targetCg - wCg).Abs() <= e.hysteresisCg
	if !inBand {
		e.settleStart = elapsed
		return false
	}
	if elapsed-e.settleStart >= e.stableMs {
		e.state = StateComplete
		return true
	}
	return false
}

func (e *Engine) abort(reason AbortReason) StepResult {
	_ = e.seq.Apply(ControlDecision{Stop: true})
	e.state = StateAborted
	e.abortReason = reason
	return StepResult{Status: StatusAborted, Reason: reason}
}

// Drop stops the motor unconditionally; safe to call multiple times and
// after any terminal state. Runners must call this along every exit path.
func (e *Engine) Drop() {
	_ = e.seq.Apply(ControlDecision{Stop: true})
}

// EngineBuilder constructs an Engine, refusing to complete until sensor,
// actuator, and target mass have all been supplied (spec's "staged
// builder" requirement).
type EngineBuilder struct {
	clk               clock.Clock
	sensor            hardware.Sensor
	actuator          hardware.Actuator
	estop             hardware.EstopInput
	calib             calibration.Calibration
	haveCalib         bool
	filterCfg         config.FilterConfig
	controlCfg        config.ControlConfig
	safetyCfg         config.SafetyConfig
	estopCfg          config.EstopConfig
	predictorCfg      config.PredictorConfig
	sensorReadTimeout time.Duration
	targetCg          types.Centigrams
	haveTarget        bool
}

// NewEngineBuilder returns a builder defaulting to a real clock and no
// E-stop input.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{clk: clock.New(), estop: hardware.NoEstop{}}
}

func (b *EngineBuilder) WithClock(c clock.Clock) *EngineBuilder       { b.clk = c; return b }
func (b *EngineBuilder) WithSensor(s hardware.Sensor) *EngineBuilder  { b.sensor = s; return b }
func (b *EngineBuilder) WithActuator(a hardware.Actuator) *EngineBuilder {
	b.actuator = a
	return b
}
func (b *EngineBuilder) WithEstop(e hardware.EstopInput) *EngineBuilder { b.estop = e; return b }
func (b *EngineBuilder) WithCalibration(c calibration.Calibration) *EngineBuilder {
	b.calib = c
	b.haveCalib = true
	return b
}
func (b *EngineBuilder) WithFilterConfig(f config.FilterConfig) *EngineBuilder {
	b.filterCfg = f
	return b
}
func (b *EngineBuilder) WithControlConfig(c config.ControlConfig) *EngineBuilder {
	b.controlCfg = c
	return b
}
func (b *EngineBuilder) WithSafetyConfig(s config.SafetyConfig) *EngineBuilder {
	b.safetyCfg = s
	return b
}
func (b *EngineBuilder) WithEstopConfig(e config.EstopConfig) *EngineBuilder {
	b.estopCfg = e
	return b
}
func (b *EngineBuilder) WithPredictorConfig(p config.PredictorConfig) *EngineBuilder {
	b.predictorCfg = p
	return b
}
func (b *EngineBuilder) WithSensorReadTimeout(d time.Duration) *EngineBuilder {
	b.sensorReadTimeout = d
	return b
}
func (b *EngineBuilder) WithTargetGrams(g float64) *EngineBuilder {
	b.targetCg = types.GramsToCentigrams(g)
	b.haveTarget = true
	return b
}

// Build validates the accumulated fields and returns a ready-to-Begin
// Engine, or a *config.BuildError naming the first missing requirement.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.sensor == nil {
		return nil, &config.BuildError{Kind: config.MissingRequired, Field: "sensor"}
	}
	if b.actuator == nil {
		return nil, &config.BuildError{Kind: config.MissingRequired, Field: "actuator"}
	}
	if !b.haveTarget {
		return nil, &config.BuildError{Kind: config.MissingRequired, Field: "target_g"}
	}
	if !b.haveCalib {
		return nil, &config.BuildError{Kind: config.MissingRequired, Field: "calibration"}
	}

	e := &Engine{
		clk:               b.clk,
		sensor:            b.sensor,
		actuator:          b.actuator,
		estop:             b.estop,
		calib:             b.calib,
		median:            filter.NewMedian(b.filterCfg.MedianWindow),
		ma:                filter.NewMovingAverage(b.filterCfg.MAWindow),
		slopeEst:          slope.NewEstimator(b.predictorCfg.Window),
		predict:           NewPredictor(b.predictorCfg.Enabled, b.predictorCfg.ExtraLatencyMs, b.predictorCfg.MinProgressRatio),
		safety:            NewSafetyWatchdog(b.estopCfg.DebounceN, b.safetyCfg.MaxRunMs, types.GramsToCentigrams(b.safetyCfg.MaxOvershootG), types.GramsToCentigrams(b.safetyCfg.NoProgressEpsilonG), b.safetyCfg.NoProgressMs),
		control:           NewControlLaw(b.controlCfg.CoarseSpeed, b.controlCfg.FineSpeed, b.controlCfg.SlowAtG, b.controlCfg.SpeedBands),
		seq:               NewMotorSequencer(b.actuator),
		targetCg:          b.targetCg,
		hysteresisCg:      types.GramsToCentigrams(b.controlCfg.HysteresisG),
		epsilonCg:         types.GramsToCentigrams(b.controlCfg.EpsilonG),
		stableMs:          time.Duration(b.controlCfg.StableMs) * time.Millisecond,
		sensorReadTimeout: b.sensorReadTimeout,
		state:             StateIdle,
	}
	return e, nil
}
