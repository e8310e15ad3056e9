package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGramsToCentigrams_RoundTrip(t *testing.T) {
	cases := []struct {
		g    float64
		want Centigrams
	}{
		{0, 0},
		{1.00, 100},
		{0.005, 1},  // rounds to nearest cg
		{0.004, 0},  // rounds down
		{-1.00, -100},
		{1.005, 100}, // 1.005 is stored just below 1.005, so 1.005*100 rounds down
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			got := GramsToCentigrams(tc.g)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCentigrams_Grams_RoundTripsWithinTolerance(t *testing.T) {
	for _, g := range []float64{0, 0.5, 1.0, 12.34, -3.21, 999.99} {
		cg := GramsToCentigrams(g)
		got := cg.Grams()
		assert.InDelta(t, g, got, 0.005)
	}
}

func TestCentigrams_Abs(t *testing.T) {
	assert.Equal(t, Centigrams(5), Centigrams(-5).Abs())
	assert.Equal(t, Centigrams(5), Centigrams(5).Abs())
	assert.Equal(t, Centigrams(0), Centigrams(0).Abs())
}

func TestMaxMinCentigrams(t *testing.T) {
	assert.Equal(t, Centigrams(10), MaxCentigrams(10, 3))
	assert.Equal(t, Centigrams(10), MaxCentigrams(3, 10))
	assert.Equal(t, Centigrams(3), MinCentigrams(10, 3))
	assert.Equal(t, Centigrams(3), MinCentigrams(3, 10))
}
