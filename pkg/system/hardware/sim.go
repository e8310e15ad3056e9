package hardware

import (
	"sync"
	"time"
)

// ActuatorCall records a single Start/SetSpeed/Stop invocation, in order,
// so engine/runner tests can assert on exactly-one-stop and speed
// transitions.
type ActuatorCall struct {
	Kind  string // "start", "set_speed", "stop"
	Speed float64
}

// SimActuator is an in-memory Actuator double that records every call and
// enforces the Start-before-SetSpeed / Stop-resets-to-needs-Start
// invariant the same way a real driver must.
type SimActuator struct {
	mu      sync.Mutex
	started bool
	Calls   []ActuatorCall
}

func (a *SimActuator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.Calls = append(a.Calls, ActuatorCall{Kind: "start"})
	return nil
}

func (a *SimActuator) SetSpeed(stepsPerSecond float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}
	a.Calls = append(a.Calls, ActuatorCall{Kind: "set_speed", Speed: stepsPerSecond})
	return nil
}

func (a *SimActuator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.Calls = append(a.Calls, ActuatorCall{Kind: "stop"})
	return nil
}

// LastCall returns the most recent recorded call, or the zero value if none.
func (a *SimActuator) LastCall() ActuatorCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Calls) == 0 {
		return ActuatorCall{}
	}
	return a.Calls[len(a.Calls)-1]
}

// StopCount returns the number of Stop() calls recorded so far.
func (a *SimActuator) StopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.Calls {
		if c.Kind == "stop" {
			n++
		}
	}
	return n
}

// Running reports whether Start has been called without a following Stop.
func (a *SimActuator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// SimSensor is a scripted Sensor double: each Read call pops the next
// queued raw count, or returns the queued error. Runs out of script
// returns the last value again, holding steady - this lets tests script a
// warm-up sequence and then let the run "coast" at a fixed mass.
type SimSensor struct {
	mu      sync.Mutex
	samples []int64
	errs    []error
	idx     int
}

// NewSimSensor returns a SimSensor that yields samples in order.
func NewSimSensor(samples ...int64) *SimSensor {
	return &SimSensor{samples: samples}
}

// Push appends another scripted sample.
func (s *SimSensor) Push(raw int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, raw)
}

// PushErr appends a scripted error as the next entry in the sequence.
func (s *SimSensor) PushErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, 0)
	// pad errs to align index with samples
	for len(s.errs) < len(s.samples)-1 {
		s.errs = append(s.errs, nil)
	}
	s.errs = append(s.errs, err)
}

func (s *SimSensor) Read(_ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, nil
	}
	i := s.idx
	if i >= len(s.samples) {
		i = len(s.samples) - 1
	} else {
		s.idx++
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.samples[i], err
}

// SimEstop is a programmable EstopInput for debounce tests.
type SimEstop struct {
	mu       sync.Mutex
	asserted bool
}

func (e *SimEstop) Asserted() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.asserted, nil
}

func (e *SimEstop) Set(asserted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asserted = asserted
}
