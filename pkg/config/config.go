// Package config holds the typed, validated settings record the engine,
// runner, and sampler are built from. Loading it from disk (TOML) and CLI
// flag parsing are boundary concerns (see load.go and cmd/doser); this
// file only has the schema and the invariants.
package config

import "fmt"

// BuildErrorKind identifies the class of BuildError.
type BuildErrorKind int

const (
	FieldOutOfRange BuildErrorKind = iota
	MissingRequired
	InconsistentPair
)

func (k BuildErrorKind) String() string {
	switch k {
	case FieldOutOfRange:
		return "FieldOutOfRange"
	case MissingRequired:
		return "MissingRequired"
	case InconsistentPair:
		return "InconsistentPair"
	default:
		return "Unknown"
	}
}

// BuildError is raised at configuration/engine construction time; it is
// always fatal to the run.
type BuildError struct {
	Kind  BuildErrorKind
	Field string
	Msg   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("config: %s(%s): %s", e.Kind, e.Field, e.Msg)
}

func fieldErr(field, format string, args ...any) *BuildError {
	return &BuildError{Kind: FieldOutOfRange, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func missingErr(field string) *BuildError {
	return &BuildError{Kind: MissingRequired, Field: field, Msg: "required field not set"}
}

func inconsistentErr(field, format string, args ...any) *BuildError {
	return &BuildError{Kind: InconsistentPair, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Pins names the hardware lines the config binds. Only SensorData through
// MotorDir are required; MotorEnable and EstopIn are optional.
type Pins struct {
	SensorData  string `toml:"sensor_data"`
	SensorClock string `toml:"sensor_clock"`
	MotorStep   string `toml:"motor_step"`
	MotorDir    string `toml:"motor_dir"`
	MotorEnable string `toml:"motor_enable,omitempty"`
	EstopIn     string `toml:"estop_in,omitempty"`
}

// FilterConfig configures the median/moving-average cascade.
type FilterConfig struct {
	MedianWindow int     `toml:"median_window"`
	MAWindow     int     `toml:"ma_window"`
	SampleRateHz float64 `toml:"sample_rate_hz"`
}

func (f FilterConfig) validate() error {
	if f.MedianWindow < 1 {
		return fieldErr("filter.median_window", "must be >= 1, got %d", f.MedianWindow)
	}
	if f.MAWindow < 1 {
		return fieldErr("filter.ma_window", "must be >= 1, got %d", f.MAWindow)
	}
	if f.SampleRateHz <= 0 {
		return fieldErr("filter.sample_rate_hz", "must be > 0, got %g", f.SampleRateHz)
	}
	return nil
}

// samplePeriodMs returns the nominal inter-sample period in milliseconds.
func (f FilterConfig) samplePeriodMs() float64 {
	return 1000 / f.SampleRateHz
}

// SpeedBand is one row of an optional multi-band speed table. Bands are
// sorted by descending Threshold; the control law picks the band whose
// Threshold is the largest value <= the current error, i.e. an inclusive
// upper bound.
type SpeedBand struct {
	ThresholdG     float64 `toml:"threshold_g"`
	StepsPerSecond float64 `toml:"steps_per_second"`
}

// ControlConfig configures the speed-band selection and motor command
// sequencing.
type ControlConfig struct {
	CoarseSpeed float64     `toml:"coarse_speed"`
	FineSpeed   float64     `toml:"fine_speed"`
	SlowAtG     float64     `toml:"slow_at_g"`
	HysteresisG float64     `toml:"hysteresis_g"`
	StableMs    int64       `toml:"stable_ms"`
	EpsilonG    float64     `toml:"epsilon_g"`
	SpeedBands  []SpeedBand `toml:"speed_bands,omitempty"`
}

func (c ControlConfig) validate() error {
	if c.CoarseSpeed <= 0 {
		return fieldErr("control.coarse_speed", "must be > 0, got %g", c.CoarseSpeed)
	}
	if c.FineSpeed <= 0 {
		return fieldErr("control.fine_speed", "must be > 0, got %g", c.FineSpeed)
	}
	if c.SlowAtG < 0 {
		return fieldErr("control.slow_at_g", "must be >= 0, got %g", c.SlowAtG)
	}
	if c.HysteresisG < 0 {
		return fieldErr("control.hysteresis_g", "must be >= 0, got %g", c.HysteresisG)
	}
	if c.StableMs < 0 || c.StableMs > 300_000 {
		return fieldErr("control.stable_ms", "must be in [0, 300000], got %d", c.StableMs)
	}
	if c.EpsilonG < 0 || c.EpsilonG > 1.0 {
		return fieldErr("control.epsilon_g", "must be in [0.0, 1.0], got %g", c.EpsilonG)
	}
	prevSet := false
	var prev float64
	for i, b := range c.SpeedBands {
		if b.StepsPerSecond <= 0 {
			return fieldErr("control.speed_bands", "band %d: steps_per_second must be > 0", i)
		}
		if prevSet && b.ThresholdG >= prev {
			return fieldErr("control.speed_bands", "band %d: thresholds must be strictly descending", i)
		}
		prev, prevSet = b.ThresholdG, true
	}
	return nil
}

// SafetyConfig configures the runtime/overshoot/no-progress watchdogs.
type SafetyConfig struct {
	MaxRunMs            uint64  `toml:"max_run_ms"`
	MaxOvershootG       float64 `toml:"max_overshoot_g"`
	NoProgressEpsilonG  float64 `toml:"no_progress_epsilon_g"`
	NoProgressMs        uint64  `toml:"no_progress_ms"`
}

func (s SafetyConfig) validate() error {
	if s.MaxOvershootG < 0 {
		return fieldErr("safety.max_overshoot_g", "must be >= 0, got %g", s.MaxOvershootG)
	}
	if s.NoProgressEpsilonG <= 0 || s.NoProgressEpsilonG > 1.0 {
		return fieldErr("safety.no_progress_epsilon_g", "must be in (0.0, 1.0], got %g", s.NoProgressEpsilonG)
	}
	if s.NoProgressMs < 1 || s.NoProgressMs > 86_400_000 {
		return fieldErr("safety.no_progress_ms", "must be in [1, 86400000], got %d", s.NoProgressMs)
	}
	return nil
}

// EstopConfig configures the emergency-stop debounce.
type EstopConfig struct {
	ActiveLow bool   `toml:"active_low"`
	DebounceN int    `toml:"debounce_n"`
	PollMs    uint64 `toml:"poll_ms"`
}

func (e EstopConfig) validate() error {
	if e.DebounceN < 1 {
		return fieldErr("estop.debounce_n", "must be >= 1, got %d", e.DebounceN)
	}
	if e.PollMs < 1 {
		return fieldErr("estop.poll_ms", "must be >= 1, got %d", e.PollMs)
	}
	return nil
}

// PredictorConfig configures the early-stop forecaster.
type PredictorConfig struct {
	Enabled          bool    `toml:"enabled"`
	Window           int     `toml:"window"`
	ExtraLatencyMs   uint64  `toml:"extra_latency_ms"`
	MinProgressRatio float64 `toml:"min_progress_ratio"`
}

func (p PredictorConfig) validate() error {
	if p.Window < 1 {
		return fieldErr("predictor.window", "must be >= 1, got %d", p.Window)
	}
	if p.MinProgressRatio < 0 || p.MinProgressRatio > 1.0 {
		return fieldErr("predictor.min_progress_ratio", "must be in [0.0, 1.0], got %g", p.MinProgressRatio)
	}
	return nil
}

// TimeoutsConfig configures the per-sample acquisition timeout.
type TimeoutsConfig struct {
	SampleMs uint64 `toml:"sample_ms"`
}

// HardwareConfig configures sensor timing constraints.
type HardwareConfig struct {
	SensorReadTimeoutMs uint64 `toml:"sensor_read_timeout_ms"`
}

// RunnerMode selects between the Direct and Sampler acquisition strategies.
type RunnerMode string

const (
	RunnerModeSampler RunnerMode = "sampler"
	RunnerModeDirect  RunnerMode = "direct"
)

// RunnerConfig configures the orchestration loop.
type RunnerConfig struct {
	Mode RunnerMode `toml:"mode"`
}

// Config is the full validated settings record.
type Config struct {
	Pins      Pins           `toml:"pins"`
	Filter    FilterConfig   `toml:"filter"`
	Control   ControlConfig  `toml:"control"`
	Timeouts  TimeoutsConfig `toml:"timeouts"`
	Safety    SafetyConfig   `toml:"safety"`
	Hardware  HardwareConfig `toml:"hardware"`
	Estop     EstopConfig    `toml:"estop"`
	Predictor PredictorConfig `toml:"predictor"`
	Runner    RunnerConfig   `toml:"runner"`
}

// Validate enforces every per-section bound plus the cross-field
// invariants between them. It returns the first violation found; Warnings
// additionally reports non-fatal cross-field advisories.
func (c Config) Validate() error {
	if c.Pins.SensorData == "" {
		return missingErr("pins.sensor_data")
	}
	if c.Pins.SensorClock == "" {
		return missingErr("pins.sensor_clock")
	}
	if c.Pins.MotorStep == "" {
		return missingErr("pins.motor_step")
	}
	if c.Pins.MotorDir == "" {
		return missingErr("pins.motor_dir")
	}
	if err := c.Filter.validate(); err != nil {
		return err
	}
	if err := c.Control.validate(); err != nil {
		return err
	}
	if err := c.Safety.validate(); err != nil {
		return err
	}
	if err := c.Estop.validate(); err != nil {
		return err
	}
	if err := c.Predictor.validate(); err != nil {
		return err
	}
	if c.Timeouts.SampleMs == 0 {
		return fieldErr("timeouts.sample_ms", "must be > 0")
	}
	if c.Runner.Mode != RunnerModeSampler && c.Runner.Mode != RunnerModeDirect {
		return fieldErr("runner.mode", "must be %q or %q, got %q", RunnerModeSampler, RunnerModeDirect, c.Runner.Mode)
	}

	samplePeriodMs := c.Filter.samplePeriodMs()
	if float64(c.Safety.NoProgressMs) < samplePeriodMs {
		return inconsistentErr("safety.no_progress_ms",
			"no_progress_ms (%d) must be >= sample period (%.3fms)", c.Safety.NoProgressMs, samplePeriodMs)
	}
	minSensorTimeout := 1000 / c.Filter.SampleRateHz
	if float64(c.Hardware.SensorReadTimeoutMs) < minSensorTimeout {
		return inconsistentErr("hardware.sensor_read_timeout_ms",
			"sensor_read_timeout_ms (%d) must be >= 1000/sample_rate_hz (%.3fms)",
			c.Hardware.SensorReadTimeoutMs, minSensorTimeout)
	}

	return nil
}

// Warnings returns non-fatal cross-field advisories: configurations that
// validate but are suspicious enough to log.
func (c Config) Warnings() []string {
	var warnings []string
	if float64(c.Filter.MedianWindow) > c.Filter.SampleRateHz && float64(c.Filter.MAWindow) > c.Filter.SampleRateHz {
		warnings = append(warnings, fmt.Sprintf(
			"filter: both median_window (%d) and ma_window (%d) exceed sample_rate_hz (%g); smoothing latency may exceed 1s",
			c.Filter.MedianWindow, c.Filter.MAWindow, c.Filter.SampleRateHz))
	}
	return warnings
}
