package dosing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cesuratx/doser/pkg/system/hardware"
)

// sampleChanCapacity returns max(4, sampleRateHz/10), the channel capacity
// the Sampler worker publishes into.
func sampleChanCapacity(sampleRateHz float64) int {
	c := int(sampleRateHz / 10)
	if c < 4 {
		c = 4
	}
	return c
}

// Sampler owns a sensor exclusively for the duration of a run, polling it
// on a background goroutine and forwarding raw counts over a bounded
// channel, so the runner's main loop never blocks on a slow or stalled
// sensor read.
type Sampler struct {
	sensor      hardware.Sensor
	readTimeout time.Duration

	samples chan int64
	stopCh  chan struct{}
	done    chan struct{}

	lastOkMs atomic.Uint64
	epoch    time.Time

	workerPanic atomic.Value // string, set only if the worker goroutine panicked

	joinOnce sync.Once
}

// NewSampler starts exactly one worker goroutine reading from sensor at
// readTimeout per read, publishing into a channel of capacity
// max(4, sampleRateHz/10).
func NewSampler(sensor hardware.Sensor, readTimeout time.Duration, sampleRateHz float64, epoch time.Time) *Sampler {
	s := &Sampler{
		sensor:      sensor,
		readTimeout: readTimeout,
		samples:     make(chan int64, sampleChanCapacity(sampleRateHz)),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		epoch:       epoch,
	}
	go s.run()
	return s
}

// Samples returns the channel the worker publishes raw counts into.
func (s *Sampler) Samples() <-chan int64 { return s.samples }

// LastOkMs returns the monotonic timestamp (relative to epoch) of the most
// recently successful read, as a heartbeat. Ordering is relaxed: this is a
// heartbeat, not a happens-before fence. Runner does not read it; its stall
// watchdog tracks sample arrival on its own clock.
func (s *Sampler) LastOkMs() uint64 { return s.lastOkMs.Load() }

// WorkerPanic reports whether the worker goroutine has panicked and, if so,
// the recovered value formatted as a string. The caller (the runner's main
// loop, at the point it notices sample production has stopped) is
// responsible for turning this into a terminal Hardware abort; the worker
// itself only stops producing samples once it panics.
func (s *Sampler) WorkerPanic() (string, bool) {
	v := s.workerPanic.Load()
	if v == nil {
		return "", false
	}
	return v.(string), true
}

func (s *Sampler) run() {
	defer close(s.done)
	defer func() {
		// a panic inside the worker must never escape across the goroutine
		// boundary; record it so the runner can surface it as a Hardware
		// abort instead of silently falling through to the stall watchdog.
		if p := recover(); p != nil {
			s.workerPanic.Store(fmt.Sprintf("%v", p))
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		raw, err := s.sensor.Read(s.readTimeout)
		if err != nil {
			continue
		}

		select {
		case s.samples <- raw:
			s.lastOkMs.Store(uint64(time.Since(s.epoch).Milliseconds()))
		case <-s.stopCh:
			return
		}
	}
}

// Stop asserts shutdown and joins the worker, returning once it has
// exited or the bound elapses. It is safe to call more than once.
func (s *Sampler) Stop(bound time.Duration) {
	s.joinOnce.Do(func() {
		close(s.stopCh)
	})
	select {
	case <-s.done:
	case <-time.After(bound):
	}
}
