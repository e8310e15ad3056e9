package dosing

import (
	"testing"
	"time"

	"github.com/cesuratx/doser/pkg/calibration"
	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/system/clock"
	"github.com/cesuratx/doser/pkg/system/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRunnerEngine(t *testing.T, clk *clock.Virtual, sensor hardware.Sensor, act hardware.Actuator, targetG float64) *Engine {
	t.Helper()
	e, err := NewEngineBuilder().
		WithClock(clk).
		WithSensor(sensor).
		WithActuator(act).
		WithEstop(hardware.NoEstop{}).
		WithCalibration(oneToOneCalibration()).
		WithFilterConfig(config.FilterConfig{MedianWindow: 1, MAWindow: 1, SampleRateHz: 100}).
		WithControlConfig(config.ControlConfig{CoarseSpeed: 1000, FineSpeed: 200, SlowAtG: 0.50, HysteresisG: 0.02, StableMs: 0, EpsilonG: 0}).
		WithSafetyConfig(config.SafetyConfig{MaxRunMs: 60_000, MaxOvershootG: 10, NoProgressEpsilonG: 0.01, NoProgressMs: 60_000}).
		WithEstopConfig(config.EstopConfig{DebounceN: 1000}).
		WithPredictorConfig(config.PredictorConfig{Enabled: false, Window: 4, MinProgressRatio: 1}).
		WithSensorReadTimeout(10 * time.Millisecond).
		WithTargetGrams(targetG).
		Build()
	require.NoError(t, err)
	return e
}

func TestRunner_DirectMode_RunsToCompletion(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	samples := make([]int64, 0, 500)
	for i := int64(0); i <= 500; i++ {
		samples = append(samples, i)
	}
	sensor := hardware.NewSimSensor(samples...)
	e := buildRunnerEngine(t, clk, sensor, act, 1.00)
	r := NewRunner(e, sensor, act, config.RunnerModeDirect, 10*time.Millisecond, 10*time.Millisecond, nil, WithRunnerClock(clk))

	done := make(chan StepResult, 1)
	go func() {
		res, err := r.Run()
		require.NoError(t, err)
		done <- res
	}()

	var result StepResult
	for i := 0; i < 2000; i++ {
		clk.Advance(10 * time.Millisecond)
		select {
		case result = <-done:
			assert.Equal(t, StatusComplete, result.Status)
			assert.Equal(t, 1, act.StopCount())
			return
		default:
		}
	}
	t.Fatal("runner did not complete in time")
}

func TestRunner_SamplerMode_DrainsBacklogKeepingLatest(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	// the script ends at the 1.00g target and the sensor then holds there;
	// a reading that kept climbing after the stop would never settle in band.
	samples := make([]int64, 0, 500)
	for i := int64(0); i <= 100; i++ {
		samples = append(samples, i)
	}
	sensor := hardware.NewSimSensor(samples...)
	e := buildRunnerEngine(t, clk, hardware.NewSimSensor(), act, 1.00)
	sampler := NewSampler(sensor, 10*time.Millisecond, 100, clk.Now())
	r := NewRunner(e, sensor, act, config.RunnerModeSampler, 10*time.Millisecond, 10*time.Millisecond, sampler, WithRunnerClock(clk))

	done := make(chan StepResult, 1)
	go func() {
		res, err := r.Run()
		require.NoError(t, err)
		done <- res
	}()

	var result StepResult
	for i := 0; i < 5000; i++ {
		clk.Advance(10 * time.Millisecond)
		time.Sleep(time.Millisecond) // let the real sampler goroutine publish
		select {
		case result = <-done:
			assert.Equal(t, StatusComplete, result.Status)
			assert.Equal(t, 1, act.StopCount())
			return
		default:
		}
	}
	t.Fatal("runner did not complete in time")
}

func TestRunner_RefusesSecondConcurrentRunOnSamePair(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	sensor := hardware.NewSimSensor(0)
	e1 := buildRunnerEngine(t, clk, sensor, act, 1.00)
	e2 := buildRunnerEngine(t, clk, sensor, act, 1.00)

	k := pairKey{sensor: sensor, actuator: act}
	require.NoError(t, acquirePair(k))
	defer releasePair(k)

	r := NewRunner(e2, sensor, act, config.RunnerModeDirect, 10*time.Millisecond, 10*time.Millisecond, nil, WithRunnerClock(clk))
	_, err := r.Run()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_ = e1
}

// silentSensor always times out, modeling a sensor that has genuinely
// stopped responding - never once producing a sample for the sampler to
// forward - rather than one that keeps reporting a steady value.
type silentSensor struct{}

func (silentSensor) Read(time.Duration) (int64, error) { return 0, hardware.ErrTimeout }

func TestRunner_StallWatchdogAbortsWhenSamplerGoesSilent(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	var sensor silentSensor
	e := buildRunnerEngine(t, clk, hardware.NewSimSensor(), act, 1.00)
	sampler := NewSampler(sensor, 10*time.Millisecond, 100, clk.Now())
	r := NewRunner(e, sensor, act, config.RunnerModeSampler, 10*time.Millisecond, 10*time.Millisecond, sampler, WithRunnerClock(clk))

	done := make(chan StepResult, 1)
	go func() {
		res, err := r.Run()
		require.NoError(t, err)
		done <- res
	}()

	// the sensor never yields a single sample, so the sampler's channel
	// stays empty for the whole run; once no sample has arrived for
	// stallAfter, the runner's own stall watchdog must abort the run
	// independently of the engine's no-progress check (which never even
	// gets a reading to evaluate).
	for i := 0; i < 1000; i++ {
		clk.Advance(10 * time.Millisecond)
		select {
		case result := <-done:
			assert.Equal(t, StatusAborted, result.Status)
			assert.Equal(t, Timeout, result.Reason.Kind)
			assert.GreaterOrEqual(t, act.StopCount(), 1)
			return
		default:
		}
	}
	t.Fatal("runner did not abort on stall in time")
}

func TestRunner_SamplerWorkerPanicSurfacesAsHardwareAbort(t *testing.T) {
	clk := clock.NewVirtual()
	act := &hardware.SimActuator{}
	e := buildRunnerEngine(t, clk, hardware.NewSimSensor(), act, 1.00)
	sampler := NewSampler(panicSensor{}, 10*time.Millisecond, 100, clk.Now())
	r := NewRunner(e, panicSensor{}, act, config.RunnerModeSampler, 10*time.Millisecond, 10*time.Millisecond, sampler, WithRunnerClock(clk))

	done := make(chan StepResult, 1)
	go func() {
		res, err := r.Run()
		require.NoError(t, err)
		done <- res
	}()

	// the sampler's worker goroutine panics on its very first read; once
	// Run notices the channel has gone silent it must see the recorded
	// panic and abort as Hardware rather than fall through to Timeout.
	for i := 0; i < 1000; i++ {
		clk.Advance(10 * time.Millisecond)
		select {
		case result := <-done:
			assert.Equal(t, StatusAborted, result.Status)
			assert.Equal(t, Hardware, result.Reason.Kind)
			assert.Contains(t, result.Reason.Message, "simulated sensor fault")
			assert.GreaterOrEqual(t, act.StopCount(), 1)
			return
		default:
		}
	}
	t.Fatal("runner did not abort on worker panic in time")
}
