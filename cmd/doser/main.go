package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cesuratx/doser/internal/logging"
	"github.com/cesuratx/doser/pkg/calibration"
	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/dosing"
	"github.com/cesuratx/doser/pkg/system/hardware"
	"github.com/spf13/cobra"
)

// exitCodes maps a terminal AbortReason to the process exit code a calling
// script or operator console can branch on; see DESIGN.md's cmd/doser entry.
var exitCodes = map[dosing.AbortReasonKind]int{
	dosing.Estop:      10,
	dosing.MaxRuntime: 11,
	dosing.Overshoot:  12,
	dosing.NoProgress: 13,
	dosing.Timeout:    14,
	dosing.Hardware:   15,
}

type flags struct {
	configPath string
	calibPath  string
	targetG    float64
	profile    string
	logLevel   string
	logPretty  bool
}

func main() {
	var f flags

	root := &cobra.Command{
		Use:   "doser",
		Short: "Closed-loop mass-dosing controller",
		Long: `doser drives a load-cell-sensed, stepper-actuated dosing run to a target
mass, applying a median/moving-average filter, a slope-based early-stop
predictor, a speed-band control law, and a multi-stage safety watchdog
(E-stop, max runtime, overshoot, no-progress) before reporting one
terminal JSON record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().StringVar(&f.configPath, "config", "doser.toml", "path to the TOML configuration file")
	root.Flags().StringVar(&f.calibPath, "calibration", "calibration.csv", "path to the calibration CSV (raw,grams)")
	root.Flags().Float64Var(&f.targetG, "target-g", 0, "target dose mass in grams (required)")
	root.Flags().StringVar(&f.profile, "profile", "default", "profile name recorded on the terminal record")
	root.Flags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.Flags().BoolVar(&f.logPretty, "log-pretty", true, "human-readable console logs instead of JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f flags) error {
	log := logging.Init(os.Stderr, logging.ParseLevel(f.logLevel), f.logPretty)

	if f.targetG <= 0 {
		return fmt.Errorf("--target-g must be > 0")
	}

	if err := config.MustExist(f.configPath); err != nil {
		return err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	calibF, err := os.Open(f.calibPath)
	if err != nil {
		return fmt.Errorf("opening calibration file: %w", err)
	}
	defer calibF.Close()
	rows, err := calibration.LoadRows(calibF)
	if err != nil {
		return fmt.Errorf("loading calibration rows: %w", err)
	}
	calib, err := calibration.FromRows(rows)
	if err != nil {
		return fmt.Errorf("fitting calibration: %w", err)
	}

	// Real I2C/SPI/GPIO drivers are out of scope (pkg/system/hardware is the
	// seam, not a device driver); the reference sensor/actuator pair here
	// demonstrates the full control loop end to end and is the integration
	// point a hardware-specific build would replace.
	sensor := hardware.NewSimSensor()
	actuator := &hardware.SimActuator{}
	var estop hardware.EstopInput = hardware.NoEstop{}
	if cfg.Pins.EstopIn != "" {
		estop = &hardware.SimEstop{}
	}

	engine, err := dosing.NewEngineBuilder().
		WithSensor(sensor).
		WithActuator(actuator).
		WithEstop(estop).
		WithCalibration(calib).
		WithFilterConfig(cfg.Filter).
		WithControlConfig(cfg.Control).
		WithSafetyConfig(cfg.Safety).
		WithEstopConfig(cfg.Estop).
		WithPredictorConfig(cfg.Predictor).
		WithSensorReadTimeout(time.Duration(cfg.Hardware.SensorReadTimeoutMs) * time.Millisecond).
		WithTargetGrams(f.targetG).
		Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	tickPeriod := time.Duration(cfg.Timeouts.SampleMs) * time.Millisecond
	sensorTimeout := time.Duration(cfg.Hardware.SensorReadTimeoutMs) * time.Millisecond

	var sampler *dosing.Sampler
	if cfg.Runner.Mode == config.RunnerModeSampler {
		sampler = dosing.NewSampler(sensor, sensorTimeout, cfg.Filter.SampleRateHz, time.Now())
	}

	runner := dosing.NewRunner(engine, sensor, actuator, cfg.Runner.Mode, tickPeriod, sensorTimeout, sampler)

	log.Info().Str("profile", f.profile).Float64("target_g", f.targetG).Msg("run_started")
	start := time.Now()
	result, err := runner.Run()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	durationMs := time.Since(start).Milliseconds()

	rec := dosing.NewRunRecord(engine, start.UTC().Format(time.RFC3339), f.profile, f.targetG, durationMs)
	if err := dosing.NewRecordWriter(os.Stdout).Write(rec); err != nil {
		log.Error().Err(err).Msg("failed to write terminal record")
	}

	if result.Status == dosing.StatusAborted {
		log.Error().Str("reason", result.Reason.String()).Msg("run_aborted")
		os.Exit(exitCodes[result.Reason.Kind])
	}
	log.Info().Msg("run_complete")
	return nil
}
