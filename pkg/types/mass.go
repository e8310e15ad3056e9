// Package types holds the small fixed-point value types shared across the
// dosing packages, in the spirit of a single well-tested unit wrapper rather
// than bare floats/ints scattered through the codebase.
package types

import "math"

// Centigrams is a signed fixed-point mass in hundredths of a gram (0.01 g).
// All control-loop comparisons use Centigrams so that equality and ordering
// are exact; Grams (float64) only appears at the I/O boundary.
type Centigrams int64

// GramsToCentigrams converts a float gram value to the nearest Centigrams.
func GramsToCentigrams(g float64) Centigrams {
	return Centigrams(math.Round(g * 100))
}

// Grams converts back to a float gram value for display/telemetry.
func (c Centigrams) Grams() float64 {
	return float64(c) / 100
}

// Abs returns the absolute value.
func (c Centigrams) Abs() Centigrams {
	if c < 0 {
		return -c
	}
	return c
}

// MaxCentigrams returns the larger of a and b.
func MaxCentigrams(a, b Centigrams) Centigrams {
	if a > b {
		return a
	}
	return b
}

// MinCentigrams returns the smaller of a and b.
func MinCentigrams(a, b Centigrams) Centigrams {
	if a < b {
		return a
	}
	return b
}

// SpeedStepsPerSecond is the actuator command unit: stepper pulses per
// second. It is a plain float64 since hardware speed commands are not
// compared for exact equality against a target the way masses are -
// control.go applies an explicit >= 1 step/s deadband before reissuing.
type SpeedStepsPerSecond float64
