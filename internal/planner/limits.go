package planner

import (
	"math"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Planner cadence. Solutions are planned one PlanStep ahead and consumed
// every ActuationStep by the control loop.
const (
	PlanStep      = 0.2
	ActuationStep = 0.05
)

// AwarenessDecel is the forced deceleration applied while the driver
// monitoring stack is asking the car to slow down.
const AwarenessDecel = -0.2

// CoastMargin is how far above the setpoint the brake plan aims. Between the
// setpoint and setpoint+CoastMargin the planner neither accelerates nor
// brakes. Defined as 10 mph.
const CoastMargin = 10.0 * model.MphToMs

// Speed breakpoints shared by the cruise accel tables, in m/s.
var cruiseAccelBP = []float64{0.0, 5.0, 10.0, 20.0, 55.0}

var (
	cruiseMinV          = []float64{-2.0, -1.5, -1.0, -0.7, -0.5}
	cruiseMaxV          = []float64{2.0, 2.0, 1.5, 0.5, 0.3}
	cruiseMaxVEco       = []float64{0.8, 0.9, 1.0, 0.4, 0.2}
	cruiseMaxVSport     = []float64{3.0, 3.5, 3.0, 2.0, 2.0}
	cruiseMaxVFollowing = []float64{1.6, 1.4, 1.4, 0.7, 0.3}
)

// Total (vector) acceleration budgets for the turn derate. The strict table
// is used when slow-on-curves tuning is on.
var (
	totalMaxBP       = []float64{0.0, 25.0, 55.0}
	totalMaxV        = []float64{3.5, 4.0, 5.0}
	totalMaxBPStrict = []float64{20.0, 40.0}
	totalMaxVStrict  = []float64{1.7, 3.2}
)

// AccelLimits is an ordered acceleration envelope. Min <= Max always holds
// for values produced by this package.
type AccelLimits struct {
	Min float64
	Max float64
}

// JerkLimits bounds the accel rate of change handed to the smoother.
type JerkLimits struct {
	Min float64
	Max float64
}

// interp evaluates the piecewise linear function defined by (xp, fp) at x,
// clamping to the first and last values outside the breakpoint range.
// xp must be sorted ascending and len(xp) == len(fp).
func interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	for i := 1; i < n; i++ {
		if x < xp[i] {
			t := (x - xp[i-1]) / (xp[i] - xp[i-1])
			return fp[i-1] + t*(fp[i]-fp[i-1])
		}
	}
	return fp[n-1]
}

// CruiseAccelLimits returns the speed-dependent accel envelope for cruise.
// Following a slower-than-us lead never happens here: the following tables
// only apply when the lead is pulling away, trading top-end accel for a
// smoother catch-up.
func CruiseAccelLimits(vEgo float64, following bool, profile model.AccelProfile) AccelLimits {
	lower := interp(vEgo, cruiseAccelBP, cruiseMinV)

	var maxTable []float64
	switch {
	case following:
		maxTable = cruiseMaxVFollowing
	case profile == model.ProfileEco:
		maxTable = cruiseMaxVEco
	case profile == model.ProfileSport:
		maxTable = cruiseMaxVSport
	default:
		maxTable = cruiseMaxV
	}

	return AccelLimits{Min: lower, Max: interp(vEgo, cruiseAccelBP, maxTable)}
}

// JerkLimitsFor derives jerk bounds from an accel envelope. A floor of
// 0.1 m/s^3 in each direction keeps the smoother responsive when the accel
// envelope collapses toward zero.
func JerkLimitsFor(limits AccelLimits) JerkLimits {
	return JerkLimits{
		Min: math.Min(-0.1, limits.Min),
		Max: math.Max(0.1, limits.Max),
	}
}

// LimitAccelInTurns shrinks the upper accel bound so the combined
// longitudinal and lateral acceleration stays inside a total budget. The
// lateral term comes from the bicycle model: a_y = v^2 * angle / (sr * wb).
func LimitAccelInTurns(vEgo, steeringAngleDeg float64, limits AccelLimits, strict bool, params model.VehicleParams) AccelLimits {
	var totalMax float64
	if strict {
		totalMax = interp(vEgo, totalMaxBPStrict, totalMaxVStrict)
	} else {
		totalMax = interp(vEgo, totalMaxBP, totalMaxV)
	}

	aY := vEgo * vEgo * steeringAngleDeg * (math.Pi / 180.0) / (params.SteerRatio * params.Wheelbase)
	aXAllowed := math.Sqrt(math.Max(totalMax*totalMax-aY*aY, 0.0))

	return AccelLimits{Min: limits.Min, Max: math.Min(limits.Max, aXAllowed)}
}

// ApplyForcedDecel clamps the envelope for driver-distraction slowdown.
// The upper bound drops to AwarenessDecel and the lower bound follows so the
// pair stays ordered.
func ApplyForcedDecel(limits AccelLimits) AccelLimits {
	upper := math.Min(limits.Max, AwarenessDecel)
	return AccelLimits{Min: math.Min(limits.Min, upper), Max: upper}
}
