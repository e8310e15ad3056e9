package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian_PrewarmsWithoutFullWindow(t *testing.T) {
	m := NewMedian(5)
	assert.Equal(t, int64(10), m.Push(10))
	assert.Equal(t, int64(10), m.Push(10)) // median of {10,10} while window not yet full
}

func TestMedian_RejectsIsolatedSpike(t *testing.T) {
	m := NewMedian(3)
	m.Push(100)
	m.Push(100)
	got := m.Push(100000) // spike
	// median of {100,100,100000} is 100
	assert.Equal(t, int64(100), got)
}

func TestMedian_EvenWindowAverages(t *testing.T) {
	m := NewMedian(4)
	m.Push(1)
	m.Push(2)
	m.Push(3)
	got := m.Push(4)
	// sorted {1,2,3,4}, median = round((2+3)/2) = round(2.5) = 3 (ties away from zero)
	assert.Equal(t, int64(3), got)
}

func TestMedian_Reset(t *testing.T) {
	m := NewMedian(3)
	m.Push(5)
	m.Push(5)
	m.Reset()
	got := m.Push(9)
	assert.Equal(t, int64(9), got)
}

func TestMovingAverage_PrewarmsWithoutFullWindow(t *testing.T) {
	ma := NewMovingAverage(4)
	assert.Equal(t, int64(10), ma.Push(10))
	assert.Equal(t, int64(15), ma.Push(20)) // mean(10,20)=15
}

func TestMovingAverage_SlidesWindow(t *testing.T) {
	ma := NewMovingAverage(2)
	ma.Push(10)
	ma.Push(20) // mean = 15
	got := ma.Push(30)
	// window of 2: now holds {20,30} -> mean 25
	assert.Equal(t, int64(25), got)
}

func TestMovingAverage_RoundsToNearest(t *testing.T) {
	ma := NewMovingAverage(3)
	ma.Push(1)
	ma.Push(2)
	got := ma.Push(2) // mean = 5/3 = 1.666 -> rounds to 2
	assert.Equal(t, int64(2), got)
}

func TestCascade_MedianThenMovingAverage_BoundsDeviationVsOutlier(t *testing.T) {
	// A single outlier in an otherwise-flat stream: the median-then-MA
	// cascade's deviation from the outlier-free mean must be <= what the
	// MA alone would show, since the median stage removes the spike
	// before the MA ever sees it.
	clean := []int64{500, 500, 500, 500, 500, 500, 500, 500}
	withSpike := []int64{500, 500, 500, 50000, 500, 500, 500, 500}

	med := NewMedian(3)
	ma := NewMovingAverage(4)
	var cascadeOut int64
	for _, v := range withSpike {
		cascadeOut = ma.Push(med.Push(v))
	}

	maOnly := NewMovingAverage(4)
	var maOnlyOut int64
	for _, v := range withSpike {
		maOnlyOut = maOnly.Push(v)
	}

	outlierFreeMean := int64(500) // clean stream is constant
	_ = clean

	cascadeDev := abs(cascadeOut - outlierFreeMean)
	maOnlyDev := abs(maOnlyOut - outlierFreeMean)
	assert.LessOrEqual(t, cascadeDev, maOnlyDev)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
