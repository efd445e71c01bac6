// Package smoother steps a speed plan along a jerk and accel limited
// profile toward a target speed.
package smoother

import "math"

// Below snapEps of speed gap and accel the profile is considered landed and
// holds the target exactly.
const snapEps = 1e-4

// Smoother advances a (speed, accel) state toward a target speed one step at
// a time. Each step respects the accel envelope and the jerk budget, and the
// accel ramps out early enough to land on the target without overshoot.
// Stateless: everything it needs arrives with the call, so one instance can
// serve any number of concurrent plans.
type Smoother struct{}

func New() *Smoother {
	return &Smoother{}
}

// Step advances dt seconds from (vStart, aStart) toward vTarget.
// aMax and aMin bound the returned accel, jMax and jMin bound its change per
// second. aMax may be below zero when a forced deceleration is active; the
// profile then decelerates regardless of the target.
func (s *Smoother) Step(vStart, aStart, vTarget, aMax, aMin, jMax, jMin, dt float64) (v, a float64) {
	if dt <= 0 {
		return vStart, aStart
	}

	dv := vTarget - vStart
	if math.Abs(dv) < snapEps && math.Abs(aStart) < snapEps {
		return vTarget, 0.0
	}

	// The accel to aim for this step. Near the target the accel must ramp
	// back to zero inside the jerk budget, so the reachable accel shrinks
	// with the square root of the remaining speed gap.
	var aDes float64
	switch {
	case dv > 0:
		aDes = math.Min(aMax, math.Sqrt(2.0*math.Abs(jMin)*dv))
	case dv < 0:
		aDes = math.Max(aMin, -math.Sqrt(2.0*jMax*(-dv)))
	}
	aDes = clamp(aDes, aMin, aMax)

	a = aStart + clamp(aDes-aStart, jMin*dt, jMax*dt)
	a = clamp(a, aMin, aMax)

	v = vStart + dt*(aStart+a)/2.0

	// Landing: crossing the target with an accel small enough to die within
	// one step pins the profile to the target instead of ringing around it.
	crossed := (dv > 0 && v >= vTarget) || (dv < 0 && v <= vTarget)
	if crossed && math.Abs(a) <= math.Max(jMax, -jMin)*dt {
		return vTarget, 0.0
	}
	return v, a
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
