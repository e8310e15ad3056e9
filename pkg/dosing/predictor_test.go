package dosing

import (
	"testing"

	"github.com/cesuratx/doser/pkg/system/slope"
	"github.com/cesuratx/doser/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestPredictor_DisabledNeverFires(t *testing.T) {
	p := NewPredictor(false, 50, 0.5)
	stop, inflight := p.Evaluate(90, 100, 1000, 0)
	assert.False(t, stop)
	assert.Equal(t, types.Centigrams(0), inflight)
}

func TestPredictor_BelowMinProgressRatioNeverFires(t *testing.T) {
	p := NewPredictor(true, 50, 0.5)
	// w/target = 0.1 < 0.5
	stop, _ := p.Evaluate(10, 100, 10000, 0)
	assert.False(t, stop)
}

func TestPredictor_NegativeSlopeTreatedAsZeroInflight(t *testing.T) {
	p := NewPredictor(true, 50, 0.1)
	stop, inflight := p.Evaluate(90, 100, -500, 0)
	assert.Equal(t, types.Centigrams(0), inflight)
	assert.False(t, stop) // w(90) + 0 inflight + 0 epsilon < target(100)
}

func TestPredictor_FiresWhenPredictedMassReachesTarget(t *testing.T) {
	p := NewPredictor(true, 50, 0.5)
	// slope = 5 g/s = 500 cg/s; extra_latency_ms=50 -> inflight = 500*50/1000 = 25cg
	// w=80, predicted = 80+25=105 >= target(100)
	stop, inflight := p.Evaluate(80, 100, slope.CgPerSecond(500), 0)
	assert.True(t, stop)
	assert.Equal(t, types.Centigrams(25), inflight)
}

func TestPredictor_DoesNotFireBelowTargetWithEpsilon(t *testing.T) {
	p := NewPredictor(true, 50, 0.5)
	// inflight = 500*50/1000=25, w=70 -> predicted=95, epsilon=0 -> 95 < 100
	stop, _ := p.Evaluate(70, 100, slope.CgPerSecond(500), 0)
	assert.False(t, stop)
}

func TestPredictor_EpsilonClosesTheGap(t *testing.T) {
	p := NewPredictor(true, 50, 0.5)
	// predicted=95, epsilon=5 -> 100>=100
	stop, _ := p.Evaluate(70, 100, slope.CgPerSecond(500), 5)
	assert.True(t, stop)
}

func TestPredictor_ZeroTargetNeverFires(t *testing.T) {
	p := NewPredictor(true, 50, 0)
	stop, _ := p.Evaluate(0, 0, 1000, 0)
	assert.False(t, stop)
}
