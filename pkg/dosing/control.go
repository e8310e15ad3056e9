package dosing

import (
	"github.com/cesuratx/doser/pkg/config"
	"github.com/cesuratx/doser/pkg/types"
)

// minSpeedFraction is the floor the default (bandless) taper will not go
// below, expressed as a fraction of coarse_speed.
const minSpeedFraction = 0.2

// ControlDecision is the output of one ControlLaw evaluation: either stop
// the motor and enter settling, or run at the given speed.
type ControlDecision struct {
	Stop                bool
	SpeedStepsPerSecond float64
}

// ControlLaw selects a motor speed from the current dosing error, per the
// speed-band table when one is configured, or the default two-segment
// taper otherwise.
type ControlLaw struct {
	coarseSpeed float64
	fineSpeed   float64
	slowAtG     float64
	bands       []config.SpeedBand // must already be sorted strictly descending by ThresholdG
}

// NewControlLaw builds a ControlLaw. bands may be nil/empty to use the
// default taper.
func NewControlLaw(coarseSpeed, fineSpeed, slowAtG float64, bands []config.SpeedBand) *ControlLaw {
	return &ControlLaw{
		coarseSpeed: coarseSpeed,
		fineSpeed:   fineSpeed,
		slowAtG:     slowAtG,
		bands:       bands,
	}
}

// Decide returns the control action for the given remaining error (target
// minus current reading). errCg <= 0 means target has been reached or
// passed; the motor stops and the engine enters settling.
func (c *ControlLaw) Decide(errCg types.Centigrams) ControlDecision {
	if errCg <= 0 {
		return ControlDecision{Stop: true}
	}

	errG := errCg.Grams()

	if len(c.bands) > 0 {
		if speed, ok := c.selectBand(errG); ok {
			return ControlDecision{SpeedStepsPerSecond: speed}
		}
	}

	if errG >= c.slowAtG {
		return ControlDecision{SpeedStepsPerSecond: c.coarseSpeed}
	}

	floor := c.fineSpeed
	if f := minSpeedFraction * c.coarseSpeed; f > floor {
		floor = f
	}
	if c.slowAtG <= 0 {
		return ControlDecision{SpeedStepsPerSecond: floor}
	}
	frac := errG / c.slowAtG
	speed := floor + frac*(c.coarseSpeed-floor)
	return ControlDecision{SpeedStepsPerSecond: speed}
}

// selectBand picks the band with the largest ThresholdG <= errG (inclusive
// upper bound). bands is assumed sorted strictly descending.
func (c *ControlLaw) selectBand(errG float64) (float64, bool) {
	for _, b := range c.bands {
		if b.ThresholdG <= errG {
			return b.StepsPerSecond, true
		}
	}
	return 0, false
}

// MotorSequencer enforces the motor command discipline: issue
// start() once before the first nonzero speed command of a run, re-issue
// set_speed only when it changes by at least one step/s, and issue stop()
// exactly once per stop/settle transition.
type MotorSequencer struct {
	actuator hardwareSetter
	started  bool
	stopped  bool
	lastSpeed float64
	haveLast  bool
}

// hardwareSetter is the minimal slice of hardware.Actuator the sequencer
// needs; defined locally so tests can supply a narrower fake.
type hardwareSetter interface {
	Start() error
	SetSpeed(stepsPerSecond float64) error
	Stop() error
}

// NewMotorSequencer wraps an actuator with command-discipline bookkeeping.
func NewMotorSequencer(actuator hardwareSetter) *MotorSequencer {
	return &MotorSequencer{actuator: actuator}
}

// Reset clears all bookkeeping, called at engine begin().
func (m *MotorSequencer) Reset() {
	m.started = false
	m.stopped = false
	m.haveLast = false
	m.lastSpeed = 0
}

// Apply issues the hardware calls implementing the given decision: at most
// one, except that the first run command after construction, Reset, or a
// stop issues Start followed by SetSpeed.
func (m *MotorSequencer) Apply(d ControlDecision) error {
	if d.Stop {
		return m.applyStop()
	}
	return m.applyRun(d.SpeedStepsPerSecond)
}

func (m *MotorSequencer) applyStop() error {
	if m.stopped {
		return nil
	}
	m.stopped = true
	m.started = false
	return m.actuator.Stop()
}

func (m *MotorSequencer) applyRun(speed float64) error {
	m.stopped = false
	if !m.started {
		if err := m.actuator.Start(); err != nil {
			return err
		}
		m.started = true
		m.haveLast = true
		m.lastSpeed = speed
		return m.actuator.SetSpeed(speed)
	}
	if !m.haveLast || abs(speed-m.lastSpeed) >= 1.0 {
		m.lastSpeed = speed
		m.haveLast = true
		return m.actuator.SetSpeed(speed)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
