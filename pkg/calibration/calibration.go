// Package calibration fits and applies the affine raw-ADC-to-mass map the
// dosing engine uses to turn sensor counts into centigrams.
package calibration

import (
	"fmt"
	"math"

	"github.com/cesuratx/doser/pkg/types"
)

// ErrorKind identifies the class of CalibrationError.
type ErrorKind int

const (
	InvalidHeader ErrorKind = iota
	InsufficientRows
	NonMonotonic
	DegenerateVariance
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidHeader:
		return "InvalidHeader"
	case InsufficientRows:
		return "InsufficientRows"
	case NonMonotonic:
		return "NonMonotonic"
	case DegenerateVariance:
		return "DegenerateVariance"
	default:
		return "Unknown"
	}
}

// Error is the typed error CalibrationError surfaces at load/fit time.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("calibration: %s: %s", e.Kind, e.Msg) }

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Row is one calibration sample: a raw ADC count paired with a known mass.
type Row struct {
	Raw   int64
	Grams float64
}

// degenerateVarianceEpsilon is the minimum raw-count variance accepted
// before a division by it is trusted.
const degenerateVarianceEpsilon = 1e-9

// minScaleFactor and maxScaleFactor bound |a| to a physically plausible
// range, rejecting a degenerate fit instead of silently accepting noise.
const (
	minScaleFactor = 1e-9
	maxScaleFactor = 1e3
)

// Calibration is the fitted affine map grams = a*raw + b, stored as a scale
// factor and a tare point (the raw count at which grams == 0).
type Calibration struct {
	ScaleFactor float64 // a
	TareCounts  int64   // round(-b/a)
}

// RawToCg converts a raw ADC count to centigrams using the fitted map.
func (c Calibration) RawToCg(raw int64) types.Centigrams {
	grams := c.ScaleFactor * float64(raw-c.TareCounts)
	return types.GramsToCentigrams(grams)
}

// CgToGrams converts centigrams back to grams for I/O/telemetry.
func (c Calibration) CgToGrams(cg types.Centigrams) float64 {
	return cg.Grams()
}

// FromRows fits a Calibration from at least two (raw, grams) rows via
// ordinary least squares, then performs one robust refit that excludes
// points whose residual exceeds 2*RMS of the initial fit. The refit is
// discarded (falling back to the initial fit) if it would leave fewer than
// two inliers, or if the inliers' raw values no longer have enough
// variance to divide by safely.
func FromRows(rows []Row) (Calibration, error) {
	if len(rows) < 2 {
		return Calibration{}, newErr(InsufficientRows, "need >= 2 rows, got %d", len(rows))
	}
	if err := checkStrictlyMonotonic(rows); err != nil {
		return Calibration{}, err
	}

	initial, err := ols(rows)
	if err != nil {
		return Calibration{}, err
	}

	rms := residualRMS(rows, initial)
	var inliers []Row
	for _, r := range rows {
		resid := r.Grams - (initial.a*float64(r.Raw) + initial.b)
		if math.Abs(resid) <= 2*rms {
			inliers = append(inliers, r)
		}
	}

	fit := initial
	if len(inliers) >= 2 {
		if refit, err := ols(inliers); err == nil {
			fit = refit
		}
		// a degenerate refit (insufficient raw variance among inliers)
		// silently falls back to the initial fit, per spec.
	}

	return toCalibration(fit), nil
}

// affine is the internal (a, b) pair before it is repackaged as
// (ScaleFactor, TareCounts).
type affine struct {
	a, b float64
}

func toCalibration(f affine) Calibration {
	tare := int64(0)
	if f.a != 0 {
		tare = int64(math.Round(-f.b / f.a))
	}
	return Calibration{ScaleFactor: f.a, TareCounts: tare}
}

func ols(rows []Row) (affine, error) {
	n := float64(len(rows))
	var sumX, sumY float64
	for _, r := range rows {
		sumX += float64(r.Raw)
		sumY += r.Grams
	}
	meanX := sumX / n
	meanY := sumY / n

	var sxx, sxy float64
	for _, r := range rows {
		dx := float64(r.Raw) - meanX
		dy := r.Grams - meanY
		sxx += dx * dx
		sxy += dx * dy
	}
	if sxx <= degenerateVarianceEpsilon {
		return affine{}, newErr(DegenerateVariance, "raw variance %.3g is degenerate", sxx)
	}

	a := sxy / sxx
	if !isFiniteNonzero(a) || math.Abs(a) < minScaleFactor || math.Abs(a) > maxScaleFactor {
		return affine{}, newErr(DegenerateVariance, "fitted scale factor %.3g out of bounds", a)
	}
	b := meanY - a*meanX
	return affine{a: a, b: b}, nil
}

func residualRMS(rows []Row, f affine) float64 {
	var sumSq float64
	for _, r := range rows {
		resid := r.Grams - (f.a*float64(r.Raw) + f.b)
		sumSq += resid * resid
	}
	return math.Sqrt(sumSq / float64(len(rows)))
}

func isFiniteNonzero(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0
}

func checkStrictlyMonotonic(rows []Row) error {
	increasing := rows[1].Raw > rows[0].Raw
	decreasing := rows[1].Raw < rows[0].Raw
	if !increasing && !decreasing {
		return newErr(NonMonotonic, "raw values %d and %d are not distinct", rows[0].Raw, rows[1].Raw)
	}
	for i := 1; i < len(rows); i++ {
		if increasing && rows[i].Raw <= rows[i-1].Raw {
			return newErr(NonMonotonic, "raw values not strictly increasing at row %d", i)
		}
		if decreasing && rows[i].Raw >= rows[i-1].Raw {
			return newErr(NonMonotonic, "raw values not strictly decreasing at row %d", i)
		}
	}
	return nil
}
